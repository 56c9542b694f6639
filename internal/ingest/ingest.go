// Package ingest turns an inbound chat platform event into a stored message,
// a resolved workspace, and (if the chat's trigger policy fires) a debounce
// enqueue — the path from "message arrived" to "agent dispatch is pending".
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nanoclaw/supervisor/internal/debounce"
	"github.com/nanoclaw/supervisor/internal/registry"
	"github.com/nanoclaw/supervisor/internal/router"
	"github.com/nanoclaw/supervisor/internal/store"
)

// Event is a single inbound chat message, already normalized by the chat
// platform adapter (out of scope here).
type Event struct {
	ChatID    int64
	TopicID   int64
	ChatType  string
	ChatTitle string
	TopicName string
	SenderID  int64
	Sender    string
	MessageID int64
	Text      string
	Timestamp time.Time
}

// Store is the persistence surface ingestion needs.
type Store interface {
	UpsertChat(ctx context.Context, chat store.Chat) error
	StoreMessage(ctx context.Context, msg store.Message) error
}

// Registry evaluates trigger policy for a registered chat.
type Registry interface {
	Evaluate(workspace string, chatID int64, text string) registry.TriggerDecision
}

// Ingester wires router resolution, durable storage, and trigger evaluation
// into the debounce buffer that ultimately fires a Dispatch Core run.
type Ingester struct {
	router    *router.Router
	store     Store
	registry  Registry
	debouncer *debounce.Debouncer
	log       *logrus.Logger
}

// New builds an Ingester.
func New(r *router.Router, s Store, reg Registry, deb *debounce.Debouncer, log *logrus.Logger) *Ingester {
	return &Ingester{router: r, store: s, registry: reg, debouncer: deb, log: log}
}

// Handle resolves the event's workspace, persists the message, and — if the
// chat's trigger policy fires on this text — enqueues it into the debounce
// buffer keyed by (chat, topic).
func (i *Ingester) Handle(ctx context.Context, ev Event) error {
	folder, err := i.router.Resolve(ctx, ev.ChatID, ev.TopicID, ev.ChatTitle, ev.TopicName)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}

	if err := i.store.UpsertChat(ctx, store.Chat{ChatID: ev.ChatID, Title: ev.ChatTitle, ChatType: store.ChatType(ev.ChatType)}); err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}

	decision := i.registry.Evaluate(folder, ev.ChatID, ev.Text)

	// The stored content is what the Dispatch Core later re-reads to build
	// its prompt (the debounce buffer below is cosmetic), so any mention
	// stripping has to land here, not just in the enqueued item.
	content := ev.Text
	if decision.Fire && decision.Content != "" {
		content = decision.Content
	}

	msg := store.Message{
		ChatID:     ev.ChatID,
		TopicID:    ev.TopicID,
		ID:         ev.MessageID,
		SenderID:   ev.SenderID,
		SenderName: ev.Sender,
		Content:    content,
		Timestamp:  ev.Timestamp,
		Type:       store.MessageTypeText,
	}
	if err := i.store.StoreMessage(ctx, msg); err != nil {
		return fmt.Errorf("store message: %w", err)
	}

	if !decision.Fire {
		return nil
	}

	key := debounce.Key(ev.ChatID, ev.TopicID)
	i.debouncer.Enqueue(key, debounce.Item{
		Sender:    ev.Sender,
		Content:   decision.Content,
		MessageID: ev.MessageID,
		ReplyTo:   &ev.MessageID,
		Timestamp: ev.Timestamp,
	})
	return nil
}
