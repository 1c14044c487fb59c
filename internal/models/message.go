package models

// Message is one entry of a chat. Timestamp is unix milliseconds.
type Message struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text" validate:"required,max=4000"`
	Timestamp  int64  `json:"timestamp"`
}

// Chat is a device-local conversation owned by one user.
type Chat struct {
	ID           string    `json:"id"`
	Participants []User    `json:"participants"`
	Messages     []Message `json:"messages"` // Append-only
	IsGroup      bool      `json:"isGroup"`
	GroupName    string    `json:"groupName,omitempty"`
	LastMessage  string    `json:"lastMessage,omitempty"`
}

// AIParticipant returns the first AI persona taking part in the chat.
func (c *Chat) AIParticipant() (User, bool) {
	for _, p := range c.Participants {
		if p.IsAI() {
			return p, true
		}
	}
	return User{}, false
}

// Title is the group name, or the first participant's alias.
func (c *Chat) Title() string {
	if c.IsGroup && c.GroupName != "" {
		return c.GroupName
	}
	if len(c.Participants) > 0 {
		return c.Participants[0].Name
	}
	return c.ID
}
