package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nanoclaw/supervisor/internal/config"
	"github.com/nanoclaw/supervisor/internal/mount"
	"github.com/nanoclaw/supervisor/internal/registry"
	"github.com/nanoclaw/supervisor/internal/store"
	"github.com/nanoclaw/supervisor/internal/workerpool"
)

// runConfigResolver turns a workspace folder into the container run
// configuration the worker pool needs: resolved image/timeout/env overrides
// plus the ordered, allowlist-validated bind mount list from the Mount
// Planner.
type runConfigResolver struct {
	cfg       config.Config
	store     *store.Store
	registry  *registry.Registry
	allowlist mount.Allowlist
}

func newRunConfigResolver(cfg config.Config, s *store.Store, reg *registry.Registry, allow mount.Allowlist) *runConfigResolver {
	return &runConfigResolver{cfg: cfg, store: s, registry: reg, allowlist: allow}
}

func (r *runConfigResolver) ResolveRunConfig(ctx context.Context, workspace string, isMain bool) (workerpool.RunConfig, error) {
	chatType := mount.ChatPrivate
	var chat *registry.Chat

	if !isMain {
		topic, err := r.store.TopicByFolder(ctx, workspace)
		if err != nil {
			return workerpool.RunConfig{}, fmt.Errorf("lookup topic for workspace: %w", err)
		}
		if topic != nil {
			chat = r.registry.Get(topic.ChatID)
			if chat != nil {
				chatType = mount.ChatType(chat.ChatType)
			}
		}
	}

	plan := mount.Plan{
		WorkspaceFolder: workspace,
		IsMain:          isMain,
		ChatType:        chatType,
		ProjectRoot:     r.cfg.ProjectRoot,
		WorkspacesRoot:  r.cfg.WorkspacesRoot,
		WorkerStateDir:  filepath.Join(r.cfg.WorkspacesRoot, workspace, ".claude-state"),
		MailboxDir:      filepath.Join(r.cfg.WorkspacesRoot, workspace, "ipc"),
		FilteredEnvFile: filepath.Join(r.cfg.WorkspacesRoot, workspace, ".env.filtered"),
	}

	var extraMounts []mount.ExtraMountRequest
	timeout := r.cfg.ContainerTimeout
	image := r.cfg.ContainerImage
	env := map[string]string{}

	if chat != nil {
		for _, m := range chat.ContainerConfig.ExtraMounts {
			extraMounts = append(extraMounts, mount.ExtraMountRequest{
				HostPath:        m.HostPath,
				Sub:             m.Sub,
				NonMainReadOnly: m.NonMainReadOnly,
			})
		}
		if chat.ContainerConfig.TimeoutMS > 0 {
			timeout = time.Duration(chat.ContainerConfig.TimeoutMS) * time.Millisecond
		}
		for k, v := range chat.ContainerConfig.EnvOverrides {
			env[k] = v
		}
	}
	plan.ExtraMounts = extraMounts

	binds, dropped := mount.Compute(plan, r.allowlist)
	for _, d := range dropped {
		log.WithField("workspace", workspace).WithField("host_path", d.Request.HostPath).
			Warn("runconfig: dropped mount: " + d.Reason)
	}

	mounts := make([]string, 0, len(binds))
	for _, b := range binds {
		mounts = append(mounts, b.String())
	}

	return workerpool.RunConfig{
		Image:          image,
		Timeout:        timeout,
		Env:            env,
		Mounts:         mounts,
		IdleTimeout:    r.cfg.WarmIdleTimeout,
		MaxOutputBytes: r.cfg.MaxOutputBytes,
	}, nil
}

// ensureWorkspaceDirs creates the on-disk layout a workspace needs before its
// first container run: group data dir, worker state dir, and mailbox
// messages/tasks/errors subdirectories.
func ensureWorkspaceDirs(workspacesRoot, folder string) error {
	dirs := []string{
		filepath.Join(workspacesRoot, folder),
		filepath.Join(workspacesRoot, folder, ".claude-state"),
		filepath.Join(workspacesRoot, folder, "ipc", "messages"),
		filepath.Join(workspacesRoot, folder, "ipc", "tasks"),
		filepath.Join(workspacesRoot, folder, "ipc", "errors"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create workspace dir %s: %w", d, err)
		}
	}
	return nil
}
