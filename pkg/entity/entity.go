package entity

// UserID identifies the user that owns a set of memories.
type UserID string

// Context holds the identity a memory operation runs on behalf of.
type Context struct {
	// UserID is the owner of memories written in this scope
	UserID UserID

	// ConversationID optionally scopes episodic records to one conversation
	ConversationID string
}

// NewContext creates a new Context with the specified user ID and optional conversation ID.
func NewContext(userID UserID, conversationID string) Context {
	return Context{
		UserID:         userID,
		ConversationID: conversationID,
	}
}

// IsZero reports whether no identity was set.
func (c Context) IsZero() bool {
	return c.UserID == "" && c.ConversationID == ""
}
