package chat

import (
	"testing"
	"time"
)

func TestStoreAppendUpdateRemove(t *testing.T) {
	s := NewStore()
	s.Append(Message{ID: "a", Role: RoleUser, Content: "hi"})
	s.Append(Message{ID: "b", Role: RoleAssistant, Streaming: true})

	if !s.Update("b", func(m *Message) { m.Content = "partial"; m.Streaming = false }) {
		t.Fatalf("update of existing message failed")
	}
	got, ok := s.Get("b")
	if !ok || got.Content != "partial" || got.Streaming {
		t.Errorf("Get(b) = %+v", got)
	}

	if s.Update("missing", func(*Message) {}) {
		t.Errorf("update of missing id should return false")
	}

	if !s.Remove("a") {
		t.Fatalf("remove of existing message failed")
	}
	if s.Len() != 1 {
		t.Errorf("len = %d, want 1", s.Len())
	}
	if _, ok := s.Get("b"); !ok {
		t.Errorf("surviving message lost its index after Remove")
	}
}

func TestStoreAppendDuplicateIDReplaces(t *testing.T) {
	s := NewStore()
	s.Append(Message{ID: "a", Role: RoleUser, Content: "first"})
	s.Append(Message{ID: "b", Role: RoleAssistant, Content: "reply"})
	s.Append(Message{ID: "a", Role: RoleUser, Content: "second"})

	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2", s.Len())
	}
	got, ok := s.Get("a")
	if !ok || got.Content != "second" {
		t.Errorf("Get(a) = %+v, want replaced content", got)
	}
	if msgs := s.Messages(); msgs[0].Content != "second" {
		t.Errorf("list position holds %q, want the replacement", msgs[0].Content)
	}

	// A reindex must not resurrect the shadowed copy.
	if !s.Remove("b") {
		t.Fatalf("remove failed")
	}
	if s.Len() != 1 {
		t.Errorf("len after remove = %d, want 1", s.Len())
	}
	got, ok = s.Get("a")
	if !ok || got.Content != "second" {
		t.Errorf("Get(a) after reindex = %+v", got)
	}
}

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Hello   World ", "hello world"},
		{"HELLO\nworld", "hello world"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeContent(tt.in); got != tt.want {
			t.Errorf("normalizeContent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReconcileDedupWindow(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	scope := "session:s1"

	t.Run("close timestamps merge into one", func(t *testing.T) {
		s := NewStore()
		s.Append(Message{ID: NewLocalID(), Role: RoleUser, Content: "What's my spending?", CreatedAt: base})
		s.Reconcile(scope, []Message{
			{ID: "srv-1", Role: RoleUser, Content: "what's  my spending?", CreatedAt: base.Add(5 * time.Second)},
		})
		msgs := s.Messages()
		if len(msgs) != 1 {
			t.Fatalf("got %d messages, want 1: %+v", len(msgs), msgs)
		}
		if msgs[0].ID != "srv-1" {
			t.Errorf("server-assigned id should win over temp id, kept %q", msgs[0].ID)
		}
	})

	t.Run("distant timestamps keep both", func(t *testing.T) {
		s := NewStore()
		s.Append(Message{ID: "srv-1", Role: RoleUser, Content: "hello", CreatedAt: base})
		s.Reconcile(scope, []Message{
			{ID: "srv-2", Role: RoleUser, Content: "hello", CreatedAt: base.Add(60 * time.Second)},
		})
		if got := s.Len(); got != 2 {
			t.Fatalf("got %d messages, want 2", got)
		}
	})

	t.Run("missing timestamp collapses", func(t *testing.T) {
		s := NewStore()
		s.Append(Message{ID: NewLocalID(), Role: RoleAssistant, Content: "done"})
		s.Reconcile(scope, []Message{
			{ID: "srv-9", Role: RoleAssistant, Content: "Done", CreatedAt: base},
		})
		msgs := s.Messages()
		if len(msgs) != 1 {
			t.Fatalf("got %d messages, want 1", len(msgs))
		}
		if msgs[0].ID != "srv-9" || msgs[0].CreatedAt.IsZero() {
			t.Errorf("kept %+v, want the timestamped server copy", msgs[0])
		}
	})
}

func TestReconcileIdempotent(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	scope := "thread:t1"

	history := []Message{
		{ID: "srv-1", Role: RoleUser, Content: "first", CreatedAt: base},
		{ID: "srv-2", Role: RoleAssistant, Content: "reply", CreatedAt: base.Add(time.Second)},
		{ID: "srv-3", Role: RoleUser, Content: "first", CreatedAt: base.Add(2 * time.Minute)},
	}

	s := NewStore()
	s.Append(Message{ID: NewLocalID(), Role: RoleUser, Content: "first", CreatedAt: base.Add(time.Second / 2)})

	s.Reconcile(scope, history)
	once := s.Messages()
	s.Reconcile(scope, history)
	twice := s.Messages()

	if len(once) != len(twice) {
		t.Fatalf("second merge changed length: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Errorf("message %d differs after second merge: %+v vs %+v", i, once[i], twice[i])
		}
	}
}

func TestReconcileSortsTimestampsAscendingUnsetLast(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore()
	s.Append(Message{ID: "untimed", Role: RoleSystem, Content: "notice"})

	s.Reconcile("no-scope", []Message{
		{ID: "late", Role: RoleUser, Content: "b", CreatedAt: base.Add(time.Hour)},
		{ID: "early", Role: RoleUser, Content: "a", CreatedAt: base},
	})

	msgs := s.Messages()
	wantOrder := []string{"early", "late", "untimed"}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, id := range wantOrder {
		if msgs[i].ID != id {
			t.Errorf("position %d = %q, want %q", i, msgs[i].ID, id)
		}
	}
}
