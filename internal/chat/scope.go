package chat

// noScope is the sentinel scope when nothing identifies the conversation yet.
const noScope = "no-scope"

// ScopeKey derives the stable identity key for storage and deduplication.
// Precedence: thread id > session id > employee slug > sentinel.
func ScopeKey(identity SessionIdentity, employeeSlug string) string {
	switch {
	case identity.ThreadID != "":
		return "thread:" + identity.ThreadID
	case identity.SessionID != "":
		return "session:" + identity.SessionID
	case employeeSlug != "":
		return "employee:" + employeeSlug
	default:
		return noScope
	}
}
