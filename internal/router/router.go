// Package router assigns and remembers a unique workspace folder for every
// (chat, topic) pair ever observed (spec.md §4.B).
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/nanoclaw/supervisor/internal/slug"
	"github.com/nanoclaw/supervisor/internal/store"
)

// MainWorkspace is the distinguished privileged admin workspace folder.
const MainWorkspace = "main"

// GlobalWorkspace holds shared memory for non-privileged workspaces.
const GlobalWorkspace = "global"

// Store is the subset of store.Store the router depends on.
type Store interface {
	TopicByKey(ctx context.Context, chatID, topicID int64) (*store.Topic, error)
	FolderTaken(ctx context.Context, folder string, chatID, topicID int64) (bool, error)
	UpsertTopic(ctx context.Context, topic store.Topic) error
}

// Router resolves (chat, topic) pairs to workspace folders.
type Router struct {
	store Store
}

// New creates a Router backed by the given Store.
func New(s Store) *Router {
	return &Router{store: s}
}

// Resolve returns the workspace folder for (chatID, topicID), creating and
// persisting one on first sighting. chatTitle and topicName are used for slug
// generation (topicName is also stored as the topic's name) and are ignored
// on subsequent calls for the same pair.
func (r *Router) Resolve(ctx context.Context, chatID, topicID int64, chatTitle, topicName string) (string, error) {
	existing, err := r.store.TopicByKey(ctx, chatID, topicID)
	if err != nil {
		return "", fmt.Errorf("lookup topic: %w", err)
	}
	if existing != nil {
		return existing.Folder, nil
	}

	folder, err := r.allocate(ctx, chatID, topicID, chatTitle, topicName)
	if err != nil {
		return "", err
	}

	topic := store.Topic{
		ChatID:       chatID,
		TopicID:      topicID,
		Name:         topicName,
		Folder:       folder,
		LastActivity: time.Now(),
	}
	if err := r.store.UpsertTopic(ctx, topic); err != nil {
		return "", fmt.Errorf("persist topic: %w", err)
	}
	return folder, nil
}

func (r *Router) allocate(ctx context.Context, chatID, topicID int64, chatTitle, topicName string) (string, error) {
	chatSlug := slug.Make(chatTitle)
	topicSlug := ""
	if topicID != 0 {
		topicSlug = slug.Make(topicName)
	}

	var candidate string
	switch {
	case chatSlug != "" && topicSlug != "":
		candidate = chatSlug + "-" + topicSlug
	case chatSlug != "":
		candidate = chatSlug
	default:
		candidate = fmt.Sprintf("chat-%d", chatID)
	}

	base := candidate
	for i := 0; ; i++ {
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		taken, err := r.store.FolderTaken(ctx, candidate, chatID, topicID)
		if err != nil {
			return "", fmt.Errorf("check folder uniqueness: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
}
