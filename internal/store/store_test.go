package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreMessageIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := Message{ChatID: 1, TopicID: 0, ID: 100, Content: "hi", Type: MessageTypeText, Timestamp: time.Now()}
	require.NoError(t, s.StoreMessage(ctx, msg))
	require.NoError(t, s.StoreMessage(ctx, msg))

	msgs, err := s.MessagesSince(ctx, 1, 0, time.Now().Add(-time.Hour), "")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestMessagesSinceExcludesPrefixAndOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	require.NoError(t, s.StoreMessage(ctx, Message{ChatID: 1, ID: 1, Content: "first", Type: MessageTypeText, Timestamp: base.Add(1 * time.Second)}))
	require.NoError(t, s.StoreMessage(ctx, Message{ChatID: 1, ID: 2, Content: "Nanomi: echo", Type: MessageTypeText, Timestamp: base.Add(2 * time.Second)}))
	require.NoError(t, s.StoreMessage(ctx, Message{ChatID: 1, ID: 3, Content: "second", Type: MessageTypeText, Timestamp: base.Add(3 * time.Second)}))

	msgs, err := s.MessagesSince(ctx, 1, 0, base, "Nanomi:")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "first", msgs[0].Content)
	require.Equal(t, "second", msgs[1].Content)
}

func TestDueTasksAndUpdateAfterRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	require.NoError(t, s.CreateTask(ctx, ScheduledTask{
		ID: "t1", Folder: "family-chat", ScheduleType: ScheduleOnce,
		Status: TaskActive, NextRun: &past,
	}))

	due, err := s.DueTasks(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, s.UpdateAfterRun(ctx, "t1", time.Now(), nil, "done"))

	task, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, TaskCompleted, task.Status)
	require.Nil(t, task.NextRun)

	due, err = s.DueTasks(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, due, 0)
}

func TestFolderUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertTopic(ctx, Topic{ChatID: 1, TopicID: 0, Folder: "family-chat"}))
	taken, err := s.FolderTaken(ctx, "family-chat", 2, 0)
	require.NoError(t, err)
	require.True(t, taken)

	taken, err = s.FolderTaken(ctx, "family-chat", 1, 0)
	require.NoError(t, err)
	require.False(t, taken)
}
