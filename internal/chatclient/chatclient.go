// Package chatclient names the boundary interface to the chat platform the
// supervisor brokers. The platform's own protocol (bot API, gateway, etc.)
// is out of scope; this package only fixes the shape the rest of the
// supervisor depends on.
package chatclient

import "context"

// Chat describes a conversation as reported by the platform.
type Chat struct {
	ChatID   int64
	ChatType string
	Title    string
}

// Client is the supervisor's only window onto the chat platform. A concrete
// implementation adapts a specific platform's API to this shape.
type Client interface {
	// SendText posts text to chatID/topicID, optionally replying to
	// replyToMessageID (0 means no reply target). Returns the sent
	// message's platform id.
	SendText(ctx context.Context, chatID, topicID int64, text string, replyToMessageID int64) (messageID int64, err error)

	// SendReaction posts a reaction to messageID in chatID.
	SendReaction(ctx context.Context, chatID, messageID int64, emoji string) error

	// ChatInfo fetches current metadata (type and title) for chatID. No
	// supervisor package calls it.
	ChatInfo(ctx context.Context, chatID int64) (Chat, error)
}
