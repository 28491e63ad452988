package chat

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultDedupWindow is how far apart two timestamps may be before two
// messages with the same hard key count as legitimate repeats. Tunable; the
// value has no documented justification beyond matching observed behavior.
const DefaultDedupWindow = 30 * time.Second

// localIDPrefix marks ids minted on this client before the server has
// assigned one.
const localIDPrefix = "local-"

// NewLocalID mints a temporary client-side message id.
func NewLocalID() string { return localIDPrefix + uuid.NewString() }

func isLocalID(id string) bool { return strings.HasPrefix(id, localIDPrefix) }

// Store is the ordered message list with stable ids. It owns the list
// exclusively: callers mutate individual messages through Update and only
// Reconcile may rework the list as a whole.
type Store struct {
	mu          sync.Mutex
	dedupWindow time.Duration
	msgs        []Message
	byID        map[string]int
}

// NewStore creates an empty store with the default dedup window.
func NewStore() *Store {
	return &Store{
		dedupWindow: DefaultDedupWindow,
		byID:        make(map[string]int),
	}
}

// SetDedupWindow overrides the repeat-detection window used by Reconcile.
func (s *Store) SetDedupWindow(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.dedupWindow = d
	}
}

// Append adds a message at the end of the list. An id already present
// replaces the existing message in place so the index never points past a
// shadowed copy.
func (s *Store) Append(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.byID[m.ID]; ok {
		s.msgs[i] = m
		return
	}
	s.byID[m.ID] = len(s.msgs)
	s.msgs = append(s.msgs, m)
}

// Update mutates the message with the given id in place. Returns false if no
// such message exists.
func (s *Store) Update(id string, fn func(*Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return false
	}
	fn(&s.msgs[i])
	return true
}

// Remove deletes the message with the given id, preserving order.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return false
	}
	s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
	s.reindex()
	return true
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return Message{}, false
	}
	return s.msgs[i], true
}

// Messages returns a copy of the current list.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *Store) reindex() {
	s.byID = make(map[string]int, len(s.msgs))
	for i, m := range s.msgs {
		s.byID[m.ID] = i
	}
}

// hardKey is the dedup fingerprint: scope, role and normalized content.
func hardKey(scopeKey string, m Message) string {
	return scopeKey + "|" + string(m.Role) + "|" + normalizeContent(m.Content)
}

// normalizeContent lowercases, collapses whitespace and trims.
func normalizeContent(c string) string {
	return strings.Join(strings.Fields(strings.ToLower(c)), " ")
}

// Reconcile merges freshly loaded history into the live list without
// duplicating or losing either side. Messages sharing a hard key collapse to
// the better copy unless their timestamps sit further apart than the dedup
// window, in which case both are legitimate repeats. The operation is
// idempotent: merging the same input twice yields the same list.
func (s *Store) Reconcile(scopeKey string, incoming []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make([]Message, len(s.msgs))
	copy(merged, s.msgs)

	byKey := make(map[string][]int, len(merged))
	ids := make(map[string]int, len(merged))
	for i, m := range merged {
		key := hardKey(scopeKey, m)
		byKey[key] = append(byKey[key], i)
		ids[m.ID] = i
	}

	for _, in := range incoming {
		// Same id is always the same message, whatever its content says.
		if i, ok := ids[in.ID]; ok {
			merged[i] = betterOf(merged[i], in)
			continue
		}

		key := hardKey(scopeKey, in)
		if i, ok := matchWithinWindow(merged, byKey[key], in, s.dedupWindow); ok {
			merged[i] = betterOf(merged[i], in)
			continue
		}

		byKey[key] = append(byKey[key], len(merged))
		ids[in.ID] = len(merged)
		merged = append(merged, in)
	}

	// Timestamp ascending, unset timestamps last, stable otherwise.
	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i].CreatedAt, merged[j].CreatedAt
		switch {
		case a.IsZero():
			return false
		case b.IsZero():
			return true
		default:
			return a.Before(b)
		}
	})

	s.msgs = merged
	s.reindex()
}

// matchWithinWindow finds an existing message with the same hard key that the
// incoming one should collapse into. Missing timestamps on either side always
// collapse; otherwise the pair must sit within the dedup window.
func matchWithinWindow(msgs []Message, candidates []int, in Message, window time.Duration) (int, bool) {
	for _, i := range candidates {
		a, b := msgs[i].CreatedAt, in.CreatedAt
		if a.IsZero() || b.IsZero() {
			return i, true
		}
		d := a.Sub(b)
		if d < 0 {
			d = -d
		}
		if d <= window {
			return i, true
		}
	}
	return 0, false
}

// betterOf picks which copy of the same logical message to keep:
// server-assigned id beats a local temp id, then having a timestamp beats
// not having one, then the first-seen copy wins.
func betterOf(existing, incoming Message) Message {
	if isLocalID(existing.ID) && !isLocalID(incoming.ID) {
		return incoming
	}
	if !isLocalID(existing.ID) && isLocalID(incoming.ID) {
		return existing
	}
	if existing.CreatedAt.IsZero() && !incoming.CreatedAt.IsZero() {
		return incoming
	}
	return existing
}
