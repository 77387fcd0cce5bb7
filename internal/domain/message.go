package domain

// Role identifies the author of a stored turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem only appears inside the in-process memory buffer.
	RoleSystem Role = "system"
	RoleTool   Role = "tool"
)

// Persistable reports whether r may be written to the session store.
func (r Role) Persistable() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single persisted conversation turn.
type Message struct {
	UserID string
	// Timestamp is milliseconds since epoch and the sort key within UserID.
	Timestamp int64
	Role      Role
	Content   string
}
