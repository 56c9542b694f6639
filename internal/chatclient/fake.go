package chatclient

import (
	"context"
	"sync"
)

// SentText records one SendText call, for test assertions.
type SentText struct {
	ChatID           int64
	TopicID          int64
	Text             string
	ReplyToMessageID int64
}

// SentReaction records one SendReaction call, for test assertions.
type SentReaction struct {
	ChatID    int64
	MessageID int64
	Emoji     string
}

// Fake is an in-memory Client for tests and local development.
type Fake struct {
	mu        sync.Mutex
	nextMsgID int64
	Texts     []SentText
	Reactions []SentReaction
	Chats     map[int64]Chat
}

// NewFake creates an empty Fake client.
func NewFake() *Fake {
	return &Fake{Chats: make(map[int64]Chat)}
}

func (f *Fake) SendText(ctx context.Context, chatID, topicID int64, text string, replyToMessageID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMsgID++
	f.Texts = append(f.Texts, SentText{ChatID: chatID, TopicID: topicID, Text: text, ReplyToMessageID: replyToMessageID})
	return f.nextMsgID, nil
}

func (f *Fake) SendReaction(ctx context.Context, chatID, messageID int64, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reactions = append(f.Reactions, SentReaction{ChatID: chatID, MessageID: messageID, Emoji: emoji})
	return nil
}

func (f *Fake) ChatInfo(ctx context.Context, chatID int64) (Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Chats[chatID], nil
}

var _ Client = (*Fake)(nil)
