package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nanoclaw/supervisor/internal/chatclient"
	"github.com/nanoclaw/supervisor/internal/config"
	"github.com/nanoclaw/supervisor/internal/debounce"
	"github.com/nanoclaw/supervisor/internal/dispatch"
	"github.com/nanoclaw/supervisor/internal/httpapi"
	"github.com/nanoclaw/supervisor/internal/ingest"
	"github.com/nanoclaw/supervisor/internal/mailbox"
	"github.com/nanoclaw/supervisor/internal/mount"
	"github.com/nanoclaw/supervisor/internal/registry"
	"github.com/nanoclaw/supervisor/internal/router"
	"github.com/nanoclaw/supervisor/internal/scheduler"
	"github.com/nanoclaw/supervisor/internal/store"
	"github.com/nanoclaw/supervisor/internal/workerpool"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the supervisor: chat bridge, scheduler, mailbox poll, and worker pool",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}

	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	} else {
		log.WithError(err).Warn("supervisor: unrecognized log level, defaulting to info")
	}

	if _, err := exec.LookPath(cfg.ContainerRuntime); err != nil {
		log.WithError(err).Errorf("supervisor: FATAL: container runtime %q not found", cfg.ContainerRuntime)
		return fmt.Errorf("container runtime %q unavailable: %w", cfg.ContainerRuntime, err)
	}

	s, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer s.Close()

	reg, err := registry.Load(registryPath(cfg), cfg.AssistantName)
	if err != nil {
		return err
	}

	allowlist, err := loadAllowlist(cfg.MountAllowlistPath)
	if err != nil {
		log.WithError(err).Warn("supervisor: mount allowlist unavailable, extra mounts disabled")
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}

	resolver := newRunConfigResolver(cfg, s, reg, allowlist)
	pool := workerpool.New(cfg.ContainerRuntime, log)
	chat := chatclient.NewFake()

	core := dispatch.New(s, reg, pool, chat, resolver, cfg.WorkspacesRoot, cfg.AssistantName, log)
	sched := scheduler.New(s, core, cfg.SchedulerPollInterval, loc, log)

	deb := debounce.New(func(key string, batch debounce.Batch) {
		chatID, topicID := parseDebounceKey(key)
		ctx := context.Background()
		topic, err := s.TopicByKey(ctx, chatID, topicID)
		if err != nil || topic == nil {
			return
		}
		isMain := topic.Folder == dispatch.MainWorkspace
		var chatType string
		if c := reg.Get(chatID); c != nil {
			chatType = c.ChatType
		}
		core.FireText(ctx, topic.Folder, chatID, topicID, chatType, isMain, batch.ReplyToMessage)
	})

	knownWorkspaces := func() []string {
		folders, err := s.AllFolders(context.Background())
		if err != nil {
			return []string{dispatch.MainWorkspace}
		}
		for _, f := range folders {
			if f == dispatch.MainWorkspace {
				return folders
			}
		}
		return append(folders, dispatch.MainWorkspace)
	}

	// ing wires inbound chat events (delivered by a chat platform adapter,
	// outside this package's scope) into storage, trigger evaluation, and
	// the debounce buffer. Nothing in this process calls ing.Handle yet —
	// that's the chat platform adapter's job.
	_ = ingest.New(router.New(s), s, reg, deb, log)

	authStore := &mailboxAuthAdapter{store: s}
	handlers := &mailboxHandlers{
		store:         s,
		registry:      reg,
		cfgLocation:   loc,
		chat:          chat,
		assistantName: cfg.AssistantName,
		projectRoot:   cfg.ProjectRoot,
	}
	poller := mailbox.New(cfg.WorkspacesRoot, knownWorkspaces, authStore, handlers, cfg.MailboxPollInterval, log)

	// statsProvider fills only registered_chats and next_task_due (the
	// earliest due task within the next 24h); warm_containers and
	// pending_debounces are always reported as 0.
	statsProvider := func() httpapi.Stats {
		due, _ := s.DueTasks(context.Background(), time.Now().Add(24*time.Hour))
		var next *time.Time
		if len(due) > 0 {
			next = due[0].NextRun
		}
		return httpapi.Stats{
			RegisteredChats: len(reg.List()),
			NextTaskDue:     next,
		}
	}
	app := httpapi.New(statsProvider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sched.Run(ctx)

	pollStop := make(chan struct{})
	go poller.Run(pollStop)

	go func() {
		if err := app.Listen(cfg.StatusAddr); err != nil {
			log.WithError(err).Warn("supervisor: http api stopped")
		}
	}()

	if err := ensureWorkspaceDirs(cfg.WorkspacesRoot, dispatch.MainWorkspace); err != nil {
		log.WithError(err).Warn("supervisor: failed to seed main workspace directories")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("supervisor: shutting down")
	close(pollStop)
	deb.Flush()
	pool.Shutdown()
	sched.Stop()
	_ = app.Shutdown()

	return nil
}

func registryPath(cfg config.Config) string {
	return filepath.Join(filepath.Dir(cfg.StorePath), "registry.json")
}

func loadAllowlist(path string) (mount.Allowlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return mount.Allowlist{BlockedGlobs: mount.DefaultBlockedGlobs}, err
	}
	var a mount.Allowlist
	if err := json.Unmarshal(data, &a); err != nil {
		return mount.Allowlist{BlockedGlobs: mount.DefaultBlockedGlobs}, err
	}
	if len(a.BlockedGlobs) == 0 {
		a.BlockedGlobs = mount.DefaultBlockedGlobs
	}
	return a, nil
}
