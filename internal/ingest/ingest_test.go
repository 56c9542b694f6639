package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/nanoclaw/supervisor/internal/debounce"
	"github.com/nanoclaw/supervisor/internal/registry"
	"github.com/nanoclaw/supervisor/internal/router"
	"github.com/nanoclaw/supervisor/internal/store"
)

func newTestRouter(t *testing.T) *router.Router {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return router.New(s)
}

type fakeRegistry struct {
	decision registry.TriggerDecision
}

func (f *fakeRegistry) Evaluate(workspace string, chatID int64, text string) registry.TriggerDecision {
	return f.decision
}

type recordingStore struct {
	s *store.Store
}

func (r *recordingStore) UpsertChat(ctx context.Context, chat store.Chat) error {
	return r.s.UpsertChat(ctx, chat)
}

func (r *recordingStore) StoreMessage(ctx context.Context, msg store.Message) error {
	return r.s.StoreMessage(ctx, msg)
}

func TestHandleFiresDebounceWhenTriggered(t *testing.T) {
	s, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	defer s.Close()

	r := router.New(s)
	fired := make(chan debounce.Batch, 1)
	deb := debounce.New(func(key string, batch debounce.Batch) {
		fired <- batch
	})

	ing := New(r, &recordingStore{s: s}, &fakeRegistry{decision: registry.TriggerDecision{Fire: true, Content: "hello"}}, deb, logrus.New())

	err = ing.Handle(context.Background(), Event{
		ChatID: 1, TopicID: 0, ChatTitle: "Family", Sender: "alice",
		MessageID: 42, Text: "hello", Timestamp: time.Now(),
	})
	require.NoError(t, err)

	deb.Flush()
	batch := <-fired
	require.Equal(t, "hello", batch.Text)
	require.Equal(t, "alice", batch.Sender)
}

func TestHandlePersistsStrippedContentWhenTriggered(t *testing.T) {
	s, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	defer s.Close()

	r := router.New(s)
	deb := debounce.New(func(key string, batch debounce.Batch) {})

	ing := New(r, &recordingStore{s: s}, &fakeRegistry{decision: registry.TriggerDecision{Fire: true, Content: "hey what's up"}}, deb, logrus.New())

	start := time.Now().Add(-time.Minute)
	err = ing.Handle(context.Background(), Event{
		ChatID: 3, TopicID: 0, ChatTitle: "Friends", Sender: "carol",
		MessageID: 11, Text: "hey @Nanomi what's up", Timestamp: time.Now(),
	})
	require.NoError(t, err)

	messages, err := s.MessagesSince(context.Background(), 3, 0, start, "")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "hey what's up", messages[0].Content)
}

func TestHandleSkipsDebounceWhenNotTriggered(t *testing.T) {
	s, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	defer s.Close()

	r := router.New(s)
	var fireCount int
	deb := debounce.New(func(key string, batch debounce.Batch) {
		fireCount++
	})

	ing := New(r, &recordingStore{s: s}, &fakeRegistry{decision: registry.TriggerDecision{Fire: false}}, deb, logrus.New())

	err = ing.Handle(context.Background(), Event{
		ChatID: 2, TopicID: 0, ChatTitle: "Quiet", Sender: "bob",
		MessageID: 7, Text: "ignored", Timestamp: time.Now(),
	})
	require.NoError(t, err)

	deb.Flush()
	require.Equal(t, 0, fireCount)

	topic, err := s.TopicByFolder(context.Background(), "quiet")
	require.NoError(t, err)
	require.NotNil(t, topic)
	require.Equal(t, int64(2), topic.ChatID)
}
