package mailbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MainWorkspace is the distinguished workspace with elevated mailbox authority.
const MainWorkspace = "main"

// AuthStore answers the authorization questions the poller needs before
// invoking a handler.
type AuthStore interface {
	// FolderOwnsChat reports whether folder is the workspace bound to chatID.
	FolderOwnsChat(folder string, chatID int64) (bool, error)
	// TaskFolder returns the owning workspace folder of taskID, or "" if unknown.
	TaskFolder(taskID string) (string, error)
}

// Handlers applies already-authorized actions. Each method assumes the
// caller has verified authorization.
type Handlers interface {
	HandleMessage(sourceWorkspace string, a MessageAction) error
	HandleReaction(sourceWorkspace string, a ReactionAction) error
	HandleScheduleTask(sourceWorkspace string, a ScheduleTaskAction) error
	HandlePauseTask(sourceWorkspace, taskID string) error
	HandleResumeTask(sourceWorkspace, taskID string) error
	HandleCancelTask(sourceWorkspace, taskID string) error
	HandleRegisterChat(sourceWorkspace string, a RegisterChatAction) error
	HandleServiceControl(sourceWorkspace string, a ServiceControlAction) error
}

// Poller scans every workspace's mailbox directory on a fixed interval.
type Poller struct {
	mailboxRoot string
	workspaces  func() []string
	auth        AuthStore
	handlers    Handlers
	interval    time.Duration
	log         *logrus.Logger
}

// New creates a Poller. workspaces returns the current list of workspace
// folders to scan (the registry/router may grow this set over time).
func New(mailboxRoot string, workspaces func() []string, auth AuthStore, handlers Handlers, interval time.Duration, log *logrus.Logger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		mailboxRoot: mailboxRoot,
		workspaces:  workspaces,
		auth:        auth,
		handlers:    handlers,
		interval:    interval,
		log:         log,
	}
}

// Run blocks, polling until stop is closed.
func (p *Poller) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

func (p *Poller) pollOnce() {
	for _, ws := range p.workspaces() {
		p.pollDir(ws, "messages")
		p.pollDir(ws, "tasks")
	}
}

func (p *Poller) pollDir(workspace, sub string) {
	dir := filepath.Join(p.mailboxRoot, workspace, "ipc", sub)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			p.log.WithError(err).WithField("dir", dir).Warn("mailbox: list directory failed")
		}
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		p.processFile(workspace, dir, name)
	}
}

func (p *Poller) processFile(workspace, dir, name string) {
	path := filepath.Join(dir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			p.log.WithError(err).WithField("file", path).Warn("mailbox: read file failed")
		}
		return
	}

	action, err := Parse(raw)
	if err != nil {
		p.log.WithError(err).WithField("file", path).Warn("mailbox: parse failed")
		p.moveToErrors(dir, name)
		return
	}

	if err := p.dispatch(workspace, action); err != nil {
		if isAuthError(err) {
			p.log.WithError(err).WithField("file", path).Warn("mailbox: unauthorized action discarded")
		} else {
			p.log.WithError(err).WithField("file", path).Error("mailbox: handler failed")
		}
		p.moveToErrors(dir, name)
		return
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.log.WithError(err).WithField("file", path).Warn("mailbox: remove processed file failed")
	}
}

type authError struct{ msg string }

func (e authError) Error() string { return e.msg }
func isAuthError(err error) bool  { _, ok := err.(authError); return ok }

func (p *Poller) dispatch(workspace string, a Action) error {
	switch a.Type {
	case ActionMessage:
		ok, err := p.ownsChat(workspace, a.Message.ChatID)
		if err != nil {
			return err
		}
		if !ok {
			return authError{fmt.Sprintf("workspace %q is not authorized to message chat %d", workspace, a.Message.ChatID)}
		}
		return p.handlers.HandleMessage(workspace, *a.Message)

	case ActionReaction:
		ok, err := p.ownsChat(workspace, a.Reaction.ChatID)
		if err != nil {
			return err
		}
		if !ok {
			return authError{fmt.Sprintf("workspace %q is not authorized to react in chat %d", workspace, a.Reaction.ChatID)}
		}
		return p.handlers.HandleReaction(workspace, *a.Reaction)

	case ActionScheduleTask:
		task := *a.ScheduleTask
		if workspace != MainWorkspace {
			task.Folder = workspace
		} else if task.Folder == "" {
			task.Folder = MainWorkspace
		}
		return p.handlers.HandleScheduleTask(workspace, task)

	case ActionPauseTask, ActionResumeTask, ActionCancelTask:
		owner, err := p.auth.TaskFolder(a.TaskID.TaskID)
		if err != nil {
			return err
		}
		if workspace != MainWorkspace && owner != workspace {
			return authError{fmt.Sprintf("workspace %q is not authorized to modify task %q", workspace, a.TaskID.TaskID)}
		}
		switch a.Type {
		case ActionPauseTask:
			return p.handlers.HandlePauseTask(workspace, a.TaskID.TaskID)
		case ActionResumeTask:
			return p.handlers.HandleResumeTask(workspace, a.TaskID.TaskID)
		default:
			return p.handlers.HandleCancelTask(workspace, a.TaskID.TaskID)
		}

	case ActionRegisterChat:
		if workspace != MainWorkspace {
			return authError{fmt.Sprintf("workspace %q is not authorized to register chats", workspace)}
		}
		return p.handlers.HandleRegisterChat(workspace, *a.RegisterChat)

	case ActionServiceControl:
		if workspace != MainWorkspace {
			return authError{fmt.Sprintf("workspace %q is not authorized to control the service", workspace)}
		}
		return p.handlers.HandleServiceControl(workspace, *a.ServiceControl)

	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}

func (p *Poller) ownsChat(workspace string, chatID int64) (bool, error) {
	if workspace == MainWorkspace {
		return true, nil
	}
	return p.auth.FolderOwnsChat(workspace, chatID)
}

func (p *Poller) moveToErrors(dir, name string) {
	errDir := filepath.Join(filepath.Dir(dir), "errors")
	if err := os.MkdirAll(errDir, 0o755); err != nil {
		p.log.WithError(err).Warn("mailbox: create errors dir failed")
		return
	}
	src := filepath.Join(dir, name)
	dst := filepath.Join(errDir, name)
	if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
		p.log.WithError(err).WithField("file", src).Warn("mailbox: move to errors failed")
	}
}

// WriteAtomic writes data to a mailbox file using the write-temp-then-rename
// pattern mandated for both worker producers and supervisor snapshot writers.
func WriteAtomic(dir string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create mailbox dir: %w", err)
	}
	name := fmt.Sprintf("%d-%s.json", time.Now().UnixMilli(), uuid.NewString()[:8])
	tmp := filepath.Join(dir, name+".tmp")
	final := filepath.Join(dir, name)

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write mailbox temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename mailbox file: %w", err)
	}
	return final, nil
}
