package chat

import "time"

// ChannelKind separates the reusable pair channel from per-deal channels.
type ChannelKind string

const (
	KindGeneral ChannelKind = "general"
	KindDeal    ChannelKind = "deal"
)

// Channel mirrors the chats table.
type Channel struct {
	ID        string
	Kind      ChannelKind
	AUserID   string
	BUserID   string
	CreatedAt time.Time
}

// Message mirrors the messages table. System messages carry no sender.
type Message struct {
	ID        string
	ChatID    string
	SenderID  *string
	Body      string
	IsSystem  bool
	CreatedAt time.Time
}
