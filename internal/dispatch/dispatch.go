// Package dispatch is the Dispatch Core: it turns a firing Debouncer batch
// or an incoming reaction into a worker invocation, then relays the result
// back to the chat platform (spec.md §4.I).
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nanoclaw/supervisor/internal/chatclient"
	"github.com/nanoclaw/supervisor/internal/mailbox"
	"github.com/nanoclaw/supervisor/internal/registry"
	"github.com/nanoclaw/supervisor/internal/store"
	"github.com/nanoclaw/supervisor/internal/workerpool"
)

// MainWorkspace is the privileged admin workspace.
const MainWorkspace = "main"

// Store is the subset of store.Store the Dispatch Core depends on.
type Store interface {
	TopicByFolder(ctx context.Context, folder string) (*store.Topic, error)
	MessagesSince(ctx context.Context, chatID, topicID int64, sinceTS time.Time, excludePrefix string) ([]store.Message, error)
	SaveWorkerSession(ctx context.Context, folder, sessionID string) error
	WorkerSessionID(ctx context.Context, folder string) (string, error)
	TasksForFolder(ctx context.Context, folder string) ([]store.ScheduledTask, error)
	AllTasks(ctx context.Context) ([]store.ScheduledTask, error)
}

// Registry is the subset of registry.Registry the Dispatch Core depends on.
type Registry interface {
	IsRegistered(chatID int64) bool
	List() []registry.Chat
}

// Pool runs jobs through the worker pool.
type Pool interface {
	Run(ctx context.Context, workspace string, job workerpool.Job, cfg workerpool.RunConfig) (workerpool.Output, error)
}

// ConfigResolver resolves per-workspace run configuration (mounts, timeout,
// image, idle timeout) at dispatch time.
type ConfigResolver interface {
	ResolveRunConfig(ctx context.Context, workspace string, isMain bool) (workerpool.RunConfig, error)
}

// Core is the Dispatch Core.
type Core struct {
	store          Store
	registry       Registry
	pool           Pool
	chat           chatclient.Client
	configResolver ConfigResolver
	mailboxRoot    string
	assistantName  string
	log            *logrus.Logger

	mu                 sync.Mutex
	lastAgentTimestamp map[string]time.Time
}

// New creates a Dispatch Core.
func New(s Store, reg Registry, pool Pool, chat chatclient.Client, cfgResolver ConfigResolver, mailboxRoot, assistantName string, log *logrus.Logger) *Core {
	return &Core{
		store:              s,
		registry:           reg,
		pool:               pool,
		chat:               chat,
		configResolver:     cfgResolver,
		mailboxRoot:        mailboxRoot,
		assistantName:      assistantName,
		log:                log,
		lastAgentTimestamp: make(map[string]time.Time),
	}
}

// botPrefix is the literal reply prefix this assistant sends and recognizes
// as its own echo when collecting unread messages.
func (c *Core) botPrefix() string {
	return c.assistantName + ": "
}

// FireText runs the full text dispatch algorithm for workspace F, invoked
// from a Debouncer flush.
func (c *Core) FireText(ctx context.Context, workspace string, chatID, topicID int64, chatType string, isMain bool, newestInboundMessageID int64) {
	if workspace != MainWorkspace && !c.registry.IsRegistered(chatID) {
		c.log.WithField("workspace", workspace).Debug("dispatch: chat no longer registered, dropping")
		return
	}

	since := c.lastAgentTime(workspace)
	messages, err := c.store.MessagesSince(ctx, chatID, topicID, since, c.botPrefix())
	if err != nil {
		c.log.WithError(err).WithField("workspace", workspace).Error("dispatch: fetch messages since failed")
		return
	}
	if len(messages) == 0 {
		return
	}

	prompt := buildMessagesPrompt(messages)
	c.run(ctx, workspace, chatID, topicID, chatType, isMain, prompt, false, newestInboundMessageID)
}

// FireReaction runs a minimal reaction dispatch, without a reply target.
func (c *Core) FireReaction(ctx context.Context, workspace string, chatID, topicID int64, chatType string, isMain bool, reactor, emoji string, targetMessageID int64) {
	if workspace != MainWorkspace && !c.registry.IsRegistered(chatID) {
		return
	}
	prompt := buildReactionPrompt(reactor, emoji, targetMessageID)
	c.run(ctx, workspace, chatID, topicID, chatType, isMain, prompt, true, 0)
}

func (c *Core) run(ctx context.Context, workspace string, chatID, topicID int64, chatType string, isMain bool, prompt string, isReaction bool, replyToMessageID int64) {
	if err := c.writeSnapshots(ctx, workspace, isMain); err != nil {
		c.log.WithError(err).WithField("workspace", workspace).Warn("dispatch: snapshot write failed")
	}

	sessionID, err := c.store.WorkerSessionID(ctx, workspace)
	if err != nil {
		c.log.WithError(err).WithField("workspace", workspace).Warn("dispatch: session lookup failed")
	}

	runCfg, err := c.configResolver.ResolveRunConfig(ctx, workspace, isMain)
	if err != nil {
		c.log.WithError(err).WithField("workspace", workspace).Error("dispatch: resolve run config failed")
		return
	}

	job := workerpool.Job{
		Prompt:     prompt,
		SessionID:  sessionID,
		Folder:     workspace,
		SessionKey: fmt.Sprintf("%d_%d", chatID, topicID),
		IsMain:     isMain,
		ChatType:   chatType,
	}

	out, err := c.pool.Run(ctx, workspace, job, runCfg)
	if err != nil {
		c.log.WithError(err).WithField("workspace", workspace).Warn("dispatch: worker run failed, abandoning reply")
		return
	}
	if out.Status != "success" {
		c.log.WithField("workspace", workspace).WithField("error", out.Error).Warn("dispatch: worker reported error, abandoning reply")
		return
	}

	if out.NewSessionID != "" {
		if err := c.store.SaveWorkerSession(ctx, workspace, out.NewSessionID); err != nil {
			c.log.WithError(err).WithField("workspace", workspace).Warn("dispatch: persist session failed")
		}
	}

	if out.Result == "" {
		return
	}

	c.advanceLastAgentTime(workspace)

	replyTo := int64(0)
	if !isReaction {
		replyTo = replyToMessageID
	}
	if _, err := c.chat.SendText(ctx, chatID, topicID, c.botPrefix()+out.Result, replyTo); err != nil {
		c.log.WithError(err).WithField("workspace", workspace).Warn("dispatch: chat platform send failed")
	}
}

// RunScheduledTask implements scheduler.Dispatcher.
func (c *Core) RunScheduledTask(ctx context.Context, task store.ScheduledTask) (string, bool) {
	isMain := task.Folder == MainWorkspace

	if err := c.writeSnapshots(ctx, task.Folder, isMain); err != nil {
		c.log.WithError(err).WithField("workspace", task.Folder).Warn("dispatch: snapshot write failed")
	}

	var sessionID string
	if task.ContextMode == store.ContextGroup {
		var err error
		sessionID, err = c.store.WorkerSessionID(ctx, task.Folder)
		if err != nil {
			c.log.WithError(err).WithField("workspace", task.Folder).Warn("dispatch: session lookup failed")
		}
	}

	runCfg, err := c.configResolver.ResolveRunConfig(ctx, task.Folder, isMain)
	if err != nil {
		return err.Error(), false
	}

	job := workerpool.Job{
		Prompt:          task.Prompt,
		SessionID:       sessionID,
		Folder:          task.Folder,
		SessionKey:      fmt.Sprintf("%d_%d", task.ChatID, task.TopicID),
		IsMain:          isMain,
		IsScheduledTask: true,
	}

	out, err := c.pool.Run(ctx, task.Folder, job, runCfg)
	if err != nil {
		return err.Error(), false
	}
	if out.Status != "success" {
		return out.Error, false
	}
	if out.NewSessionID != "" {
		_ = c.store.SaveWorkerSession(ctx, task.Folder, out.NewSessionID)
	}
	return out.Result, true
}

func (c *Core) lastAgentTime(workspace string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAgentTimestamp[workspace]
}

func (c *Core) advanceLastAgentTime(workspace string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAgentTimestamp[workspace] = time.Now()
}

func (c *Core) writeSnapshots(ctx context.Context, workspace string, isMain bool) error {
	workspaceDir := c.mailboxRoot + "/" + workspace

	var tasks []store.ScheduledTask
	var err error
	if isMain {
		tasks, err = c.store.AllTasks(ctx)
	} else {
		tasks, err = c.store.TasksForFolder(ctx, workspace)
	}
	if err != nil {
		return fmt.Errorf("load tasks for snapshot: %w", err)
	}
	if err := mailbox.WriteCurrentTasks(workspaceDir, toTaskSnapshots(tasks)); err != nil {
		return err
	}

	var chats []registry.Chat
	if isMain {
		chats = c.registry.List()
	}
	return mailbox.WriteAvailableChats(workspaceDir, toChatSnapshots(chats))
}

func toTaskSnapshots(tasks []store.ScheduledTask) []mailbox.TaskSnapshot {
	out := make([]mailbox.TaskSnapshot, 0, len(tasks))
	for _, t := range tasks {
		var nextRun *string
		if t.NextRun != nil {
			s := t.NextRun.UTC().Format(time.RFC3339)
			nextRun = &s
		}
		out = append(out, mailbox.TaskSnapshot{
			ID:            t.ID,
			Folder:        t.Folder,
			Prompt:        t.Prompt,
			ScheduleType:  string(t.ScheduleType),
			ScheduleValue: t.ScheduleValue,
			Status:        string(t.Status),
			NextRun:       nextRun,
		})
	}
	return out
}

func toChatSnapshots(chats []registry.Chat) []mailbox.ChatSnapshot {
	out := make([]mailbox.ChatSnapshot, 0, len(chats))
	for _, c := range chats {
		out = append(out, mailbox.ChatSnapshot{
			ChatID:   c.ChatID,
			ChatType: c.ChatType,
			Mode:     string(c.Mode),
		})
	}
	return out
}

// buildMessagesPrompt builds the <messages> container per spec.md §4.I.3.
func buildMessagesPrompt(messages []store.Message) string {
	var b strings.Builder
	b.WriteString("<messages>\n")
	for _, m := range messages {
		b.WriteString(fmt.Sprintf(
			`  <message sender="%s" time="%s">%s</message>`+"\n",
			escapeXML(m.SenderName), escapeXML(m.Timestamp.UTC().Format(time.RFC3339)), escapeXML(m.Content),
		))
	}
	b.WriteString("</messages>")
	return b.String()
}

// buildReactionPrompt builds the minimal <reaction> prompt per spec.md §4.I.
func buildReactionPrompt(reactor, emoji string, targetMessageID int64) string {
	return fmt.Sprintf(
		`<reaction reactor="%s" emoji="%s" target_message_id="%d"></reaction>`,
		escapeXML(reactor), escapeXML(emoji), targetMessageID,
	)
}

// escapeXML escapes exactly the four characters spec.md §4.I.3 names:
// &, <, >, and ".
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, `"`, "&quot;")
	return s
}
