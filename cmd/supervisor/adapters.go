package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nanoclaw/supervisor/internal/chatclient"
	"github.com/nanoclaw/supervisor/internal/mailbox"
	"github.com/nanoclaw/supervisor/internal/registry"
	"github.com/nanoclaw/supervisor/internal/scheduler"
	"github.com/nanoclaw/supervisor/internal/store"
)

// mailboxAuthAdapter answers the mailbox poller's authorization questions
// against the durable store.
type mailboxAuthAdapter struct {
	store *store.Store
}

func (a *mailboxAuthAdapter) FolderOwnsChat(folder string, chatID int64) (bool, error) {
	topic, err := a.store.TopicByFolder(context.Background(), folder)
	if err != nil {
		return false, err
	}
	if topic == nil {
		return false, nil
	}
	return topic.ChatID == chatID, nil
}

func (a *mailboxAuthAdapter) TaskFolder(taskID string) (string, error) {
	task, err := a.store.GetTask(context.Background(), taskID)
	if err != nil {
		return "", err
	}
	if task == nil {
		return "", nil
	}
	return task.Folder, nil
}

// restartGrace is how long HandleServiceControl waits before exiting on a
// restart request, giving the mailbox file's removal and any in-flight log
// lines time to land before the process supervisor restarts it.
const restartGrace = 1 * time.Second

// mailboxHandlers applies authorized mailbox actions: message/reaction
// delivery to the chat platform, scheduling, registration, task lifecycle,
// and main-only service control.
type mailboxHandlers struct {
	store         *store.Store
	registry      *registry.Registry
	cfgLocation   *time.Location
	chat          chatclient.Client
	assistantName string
	projectRoot   string
}

func (h *mailboxHandlers) HandleMessage(sourceWorkspace string, a mailbox.MessageAction) error {
	prefix := h.assistantName + ": "
	_, err := h.chat.SendText(context.Background(), a.ChatID, a.TopicID, prefix+a.Text, 0)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (h *mailboxHandlers) HandleReaction(sourceWorkspace string, a mailbox.ReactionAction) error {
	if err := h.chat.SendReaction(context.Background(), a.ChatID, a.MessageID, a.Emoji); err != nil {
		return fmt.Errorf("send reaction: %w", err)
	}
	return nil
}

func (h *mailboxHandlers) HandleScheduleTask(sourceWorkspace string, a mailbox.ScheduleTaskAction) error {
	ctx := context.Background()
	scheduleType := store.ScheduleType(a.ScheduleType)
	if err := scheduler.ValidateScheduleValue(scheduleType, a.ScheduleValue); err != nil {
		return fmt.Errorf("schedule_task: %w", err)
	}
	next, err := scheduler.NextRun(scheduleType, a.ScheduleValue, time.Now(), h.cfgLocation)
	if err != nil {
		return fmt.Errorf("schedule_task: %w", err)
	}
	if scheduleType == store.ScheduleOnce {
		// A once task's first and only run is at its own local timestamp.
		loc := h.cfgLocation
		if loc == nil {
			loc = time.Local
		}
		at, err := time.ParseInLocation("2006-01-02T15:04:05", a.ScheduleValue, loc)
		if err != nil {
			return fmt.Errorf("schedule_task: %w", err)
		}
		next = &at
	}
	task := store.ScheduledTask{
		ID:            newTaskID(),
		ChatID:        a.ChatID,
		TopicID:       a.TopicID,
		Folder:        a.Folder,
		Prompt:        a.Prompt,
		ScheduleType:  scheduleType,
		ScheduleValue: a.ScheduleValue,
		ContextMode:   store.ContextMode(a.ContextMode),
		NextRun:       next,
		Status:        store.TaskActive,
		CreatedAt:     time.Now(),
	}
	if task.Folder == "" {
		task.Folder = sourceWorkspace
	}
	return h.store.CreateTask(ctx, task)
}

func (h *mailboxHandlers) HandlePauseTask(sourceWorkspace, taskID string) error {
	ctx := context.Background()
	task, err := h.store.GetTask(ctx, taskID)
	if err != nil || task == nil {
		return err
	}
	task.Status = store.TaskPaused
	return h.store.UpdateTask(ctx, *task)
}

func (h *mailboxHandlers) HandleResumeTask(sourceWorkspace, taskID string) error {
	ctx := context.Background()
	task, err := h.store.GetTask(ctx, taskID)
	if err != nil || task == nil {
		return err
	}
	next, err := scheduler.NextRun(task.ScheduleType, task.ScheduleValue, time.Now(), h.cfgLocation)
	if err != nil {
		return err
	}
	task.Status = store.TaskActive
	task.NextRun = next
	return h.store.UpdateTask(ctx, *task)
}

func (h *mailboxHandlers) HandleCancelTask(sourceWorkspace, taskID string) error {
	return h.store.DeleteTask(context.Background(), taskID)
}

func (h *mailboxHandlers) HandleRegisterChat(sourceWorkspace string, a mailbox.RegisterChatAction) error {
	return h.registry.Register(registry.Chat{
		ChatID:   a.ChatID,
		ChatType: a.ChatType,
		Mode:     registry.TriggerMode(a.TriggerMode),
		AddedAt:  time.Now(),
		AddedBy:  sourceWorkspace,
	})
}

// HandleServiceControl implements the main-only restart/rebuild actions
// (spec.md §4.H). restart exits after a short grace period so a process
// supervisor restarts this binary; rebuild runs the build command in the
// configured project root and exits only once it succeeds.
func (h *mailboxHandlers) HandleServiceControl(sourceWorkspace string, a mailbox.ServiceControlAction) error {
	switch a.Action {
	case "restart":
		log.Info("supervisor: service_control restart requested, exiting after grace period")
		time.AfterFunc(restartGrace, func() { os.Exit(0) })
		return nil
	case "rebuild":
		log.WithField("project_root", h.projectRoot).Info("supervisor: service_control rebuild requested")
		cmd := exec.Command("go", "build", "./...")
		cmd.Dir = h.projectRoot
		output, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("rebuild failed: %w: %s", err, output)
		}
		log.Info("supervisor: rebuild succeeded, exiting")
		time.AfterFunc(restartGrace, func() { os.Exit(0) })
		return nil
	default:
		return fmt.Errorf("unknown service_control action %q", a.Action)
	}
}

func newTaskID() string {
	return uuid.NewString()
}

func parseDebounceKey(key string) (chatID, topicID int64) {
	idx := strings.IndexByte(key, '_')
	if idx < 0 {
		return 0, 0
	}
	c, _ := strconv.ParseInt(key[:idx], 10, 64)
	t, _ := strconv.ParseInt(key[idx+1:], 10, 64)
	return c, t
}
