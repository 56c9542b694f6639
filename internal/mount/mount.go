// Package mount computes the ordered list of container bind mounts for a
// workspace dispatch and validates additional mounts against an external
// allowlist (spec.md §4.D).
package mount

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Mode is a bind mount's access mode.
type Mode string

const (
	ReadWrite Mode = "rw"
	ReadOnly  Mode = "ro"
)

// Bind is a single `-v host:container[:ro]` mount.
type Bind struct {
	HostPath      string
	ContainerPath string
	Mode          Mode
}

func (b Bind) String() string {
	if b.Mode == ReadOnly {
		return fmt.Sprintf("%s:%s:ro", b.HostPath, b.ContainerPath)
	}
	return fmt.Sprintf("%s:%s", b.HostPath, b.ContainerPath)
}

// ExtraMountRequest is a single additional mount requested by a chat's
// container config.
type ExtraMountRequest struct {
	HostPath        string
	Sub             string
	NonMainReadOnly bool
}

// Dropped records an extra mount that failed allowlist validation and why.
type Dropped struct {
	Request ExtraMountRequest
	Reason  string
}

// ChatType mirrors the chat type used to pick the shared instruction file.
type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

// Plan is the input needed to compute a workspace's bind mounts.
type Plan struct {
	WorkspaceFolder string
	IsMain          bool
	ChatType        ChatType
	ExtraMounts     []ExtraMountRequest

	ProjectRoot     string
	WorkspacesRoot  string
	WorkerStateDir  string
	MailboxDir      string
	FilteredEnvFile string
}

// Allowlist validates extra mount requests against a set of allowed host
// roots and blocked globs. It is loaded from a file stored outside the
// project and never itself mounted into a container.
type Allowlist struct {
	AllowedRoots []string
	BlockedGlobs []string
}

// Validate reports whether hostPath (after ~ expansion) is permitted, and the
// rejection reason if not.
func (a Allowlist) Validate(hostPath string) (string, error) {
	expanded, err := expandHome(hostPath)
	if err != nil {
		return "", fmt.Errorf("expand host path: %w", err)
	}
	clean := filepath.Clean(expanded)

	contained := false
	for _, root := range a.AllowedRoots {
		expandedRoot, err := expandHome(root)
		if err != nil {
			continue
		}
		rootClean := filepath.Clean(expandedRoot)
		if clean == rootClean || strings.HasPrefix(clean, rootClean+string(filepath.Separator)) {
			contained = true
			break
		}
	}
	if !contained {
		return "", fmt.Errorf("host path %q is not within any allowed root", hostPath)
	}

	base := filepath.Base(clean)
	for _, glob := range a.BlockedGlobs {
		if matched, _ := filepath.Match(glob, base); matched {
			return "", fmt.Errorf("host path %q matches blocked pattern %q", hostPath, glob)
		}
		if matched, _ := filepath.Match(glob, clean); matched {
			return "", fmt.Errorf("host path %q matches blocked pattern %q", hostPath, glob)
		}
	}

	return clean, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}

// Compute produces the ordered bind mount list per the planner's contract,
// plus any extra mounts that were dropped by allowlist validation.
func Compute(p Plan, allow Allowlist) ([]Bind, []Dropped) {
	var binds []Bind

	if p.IsMain {
		binds = append(binds,
			Bind{HostPath: p.ProjectRoot, ContainerPath: "/workspace/project", Mode: ReadWrite},
			Bind{HostPath: filepath.Join(p.WorkspacesRoot, p.WorkspaceFolder), ContainerPath: "/workspace/group", Mode: ReadWrite},
		)
	} else {
		binds = append(binds,
			Bind{HostPath: filepath.Join(p.WorkspacesRoot, p.WorkspaceFolder), ContainerPath: "/workspace/group", Mode: ReadWrite},
		)

		instructionSource := "global/CLAUDE.md"
		if p.ChatType == ChatPrivate {
			instructionSource = "main/CLAUDE.md"
		}
		instructionPath := filepath.Join(p.WorkspacesRoot, instructionSource)
		if fileExists(instructionPath) {
			binds = append(binds, Bind{
				HostPath:      instructionPath,
				ContainerPath: "/workspace/group/CLAUDE.md",
				Mode:          ReadOnly,
			})
		}

		globalDir := filepath.Join(p.WorkspacesRoot, "global")
		if dirExists(globalDir) {
			binds = append(binds, Bind{HostPath: globalDir, ContainerPath: "/workspace/global", Mode: ReadOnly})
		}
	}

	binds = append(binds,
		Bind{HostPath: p.WorkerStateDir, ContainerPath: "/home/node/.claude", Mode: ReadWrite},
		Bind{HostPath: p.MailboxDir, ContainerPath: "/workspace/ipc", Mode: ReadWrite},
	)

	if p.FilteredEnvFile != "" && fileExists(p.FilteredEnvFile) {
		binds = append(binds, Bind{HostPath: p.FilteredEnvFile, ContainerPath: "/workspace/env-dir", Mode: ReadOnly})
	}

	var dropped []Dropped
	for _, req := range p.ExtraMounts {
		clean, err := allow.Validate(req.HostPath)
		if err != nil {
			dropped = append(dropped, Dropped{Request: req, Reason: err.Error()})
			continue
		}
		mode := ReadWrite
		if req.NonMainReadOnly && !p.IsMain {
			mode = ReadOnly
		}
		sub := req.Sub
		if sub == "" {
			sub = filepath.Base(clean)
		}
		binds = append(binds, Bind{
			HostPath:      clean,
			ContainerPath: filepath.Join("/workspace/extra", sub),
			Mode:          mode,
		})
	}

	return binds, dropped
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// EnvWhitelist lists the only environment variables that may be copied into
// a workspace's filtered env file.
var EnvWhitelist = []string{"CLAUDE_CODE_OAUTH_TOKEN", "ANTHROPIC_API_KEY"}

// DefaultBlockedGlobs lists the glob patterns rejected by Allowlist.Validate
// regardless of which root they fall under.
var DefaultBlockedGlobs = []string{
	".ssh", ".ssh/*", "*.pem", "*.key", "id_rsa", "id_rsa.*", "id_ed25519", "id_ed25519.*",
	".gnupg", ".gnupg/*", ".aws", ".aws/*", ".gcloud", ".gcloud/*", ".azure", ".azure/*",
	".env", ".env.*", "*.p12", "*.pfx",
}
