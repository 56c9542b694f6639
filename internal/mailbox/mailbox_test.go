package mailbox

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestParseMessageAction(t *testing.T) {
	raw := []byte(`{"type":"message","chat_id":100,"topic_id":0,"text":"hi","folder":"family-chat","timestamp":1.0}`)
	a, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, ActionMessage, a.Type)
	require.Equal(t, int64(100), a.Message.ChatID)
}

func TestParseUnknownTypeRejected(t *testing.T) {
	_, err := Parse([]byte(`{"type":"teleport"}`))
	require.Error(t, err)
}

func TestParseMalformedJSONRejected(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	require.Error(t, err)
}

type fakeAuth struct {
	owns       map[string]bool
	taskFolder map[string]string
}

func (f fakeAuth) FolderOwnsChat(folder string, chatID int64) (bool, error) {
	return f.owns[folder], nil
}

func (f fakeAuth) TaskFolder(taskID string) (string, error) {
	return f.taskFolder[taskID], nil
}

type recordingHandlers struct {
	messages      []MessageAction
	registered    []RegisterChatAction
	scheduleTasks []ScheduleTaskAction
	paused        []string
}

func (r *recordingHandlers) HandleMessage(ws string, a MessageAction) error {
	r.messages = append(r.messages, a)
	return nil
}
func (r *recordingHandlers) HandleReaction(ws string, a ReactionAction) error { return nil }
func (r *recordingHandlers) HandleScheduleTask(ws string, a ScheduleTaskAction) error {
	r.scheduleTasks = append(r.scheduleTasks, a)
	return nil
}
func (r *recordingHandlers) HandlePauseTask(ws, taskID string) error {
	r.paused = append(r.paused, taskID)
	return nil
}
func (r *recordingHandlers) HandleResumeTask(ws, taskID string) error { return nil }
func (r *recordingHandlers) HandleCancelTask(ws, taskID string) error { return nil }
func (r *recordingHandlers) HandleRegisterChat(ws string, a RegisterChatAction) error {
	r.registered = append(r.registered, a)
	return nil
}
func (r *recordingHandlers) HandleServiceControl(ws string, a ServiceControlAction) error {
	return nil
}

func writeMailboxFile(t *testing.T, dir string, payload any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	_, err = WriteAtomic(dir, data)
	require.NoError(t, err)
}

func TestPollerAcceptsMainMessage(t *testing.T) {
	root := t.TempDir()
	writeMailboxFile(t, filepath.Join(root, "main", "ipc", "messages"), map[string]any{
		"type": "message", "chat_id": 100, "topic_id": 0, "text": "hi", "folder": "main", "timestamp": 1.0,
	})

	h := &recordingHandlers{}
	auth := fakeAuth{owns: map[string]bool{}}
	p := New(root, func() []string { return []string{"main"} }, auth, h, time.Millisecond, logrus.New())
	p.pollOnce()

	require.Len(t, h.messages, 1)
	entries, _ := os.ReadDir(filepath.Join(root, "main", "ipc", "messages"))
	require.Empty(t, entries)
}

func TestPollerRejectsUnauthorizedMessage(t *testing.T) {
	root := t.TempDir()
	writeMailboxFile(t, filepath.Join(root, "family-chat", "ipc", "messages"), map[string]any{
		"type": "message", "chat_id": 999, "topic_id": 0, "text": "hi", "folder": "family-chat", "timestamp": 1.0,
	})

	h := &recordingHandlers{}
	auth := fakeAuth{owns: map[string]bool{"family-chat": false}}
	p := New(root, func() []string { return []string{"family-chat"} }, auth, h, time.Millisecond, logrus.New())
	p.pollOnce()

	require.Empty(t, h.messages)
	entries, _ := os.ReadDir(filepath.Join(root, "family-chat", "ipc", "errors"))
	require.Len(t, entries, 1)
}

func TestPollerRejectsNonMainRegisterChat(t *testing.T) {
	root := t.TempDir()
	writeMailboxFile(t, filepath.Join(root, "family-chat", "ipc", "tasks"), map[string]any{
		"type": "register_chat", "chat_id": 5, "chat_type": "group", "chat_title": "X", "trigger_mode": "always",
	})

	h := &recordingHandlers{}
	auth := fakeAuth{}
	p := New(root, func() []string { return []string{"family-chat"} }, auth, h, time.Millisecond, logrus.New())
	p.pollOnce()

	require.Empty(t, h.registered)
}

func TestPollerCoercesScheduleTaskOwnerForNonMain(t *testing.T) {
	root := t.TempDir()
	writeMailboxFile(t, filepath.Join(root, "family-chat", "ipc", "tasks"), map[string]any{
		"type": "schedule_task", "prompt": "p", "schedule_type": "once", "schedule_value": "x",
		"context_mode": "group", "chat_id": 1, "topic_id": 0, "folder": "main", "created_by": "worker",
	})

	h := &recordingHandlers{}
	auth := fakeAuth{}
	p := New(root, func() []string { return []string{"family-chat"} }, auth, h, time.Millisecond, logrus.New())
	p.pollOnce()

	require.Len(t, h.scheduleTasks, 1)
	require.Equal(t, "family-chat", h.scheduleTasks[0].Folder)
}

func TestPollerAllowsTaskActionWhenFolderOwnsTask(t *testing.T) {
	root := t.TempDir()
	writeMailboxFile(t, filepath.Join(root, "family-chat", "ipc", "tasks"), map[string]any{
		"type": "pause_task", "task_id": "t1",
	})

	h := &recordingHandlers{}
	auth := fakeAuth{taskFolder: map[string]string{"t1": "family-chat"}}
	p := New(root, func() []string { return []string{"family-chat"} }, auth, h, time.Millisecond, logrus.New())
	p.pollOnce()

	require.Equal(t, []string{"t1"}, h.paused)
}

func TestWriteSnapshotsAtomic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteCurrentTasks(dir, []TaskSnapshot{{ID: "t1", Folder: "main"}}))
	require.NoError(t, WriteAvailableChats(dir, []ChatSnapshot{{ChatID: 1}}))

	data, err := os.ReadFile(filepath.Join(dir, "current_tasks.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"id": "t1"`)
}
