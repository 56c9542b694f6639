// Package registry maintains the file-backed set of registered chats and
// evaluates trigger policy for incoming messages (spec.md §4.C).
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TriggerMode is a registered chat's default firing policy.
type TriggerMode string

const (
	TriggerAlways    TriggerMode = "always"
	TriggerMention   TriggerMode = "mention"
	TriggerDisabled  TriggerMode = "disabled"
)

// ContainerConfig holds per-chat overrides applied when dispatching work for
// this chat (additional mounts, timeout, env overrides).
type ContainerConfig struct {
	ExtraMounts   []ExtraMount      `json:"extra_mounts,omitempty"`
	TimeoutMS     int64             `json:"timeout_ms,omitempty"`
	EnvOverrides  map[string]string `json:"env_overrides,omitempty"`
}

// ExtraMount is a single requested additional bind mount, validated later by
// the Mount Planner against an external allowlist.
type ExtraMount struct {
	HostPath        string `json:"host_path"`
	Sub             string `json:"sub"`
	NonMainReadOnly bool   `json:"non_main_read_only"`
}

// Chat is a registered chat known to the supervisor.
type Chat struct {
	ChatID          int64           `json:"chat_id"`
	ChatType        string          `json:"chat_type"`
	Mode            TriggerMode     `json:"mode"`
	MentionPattern  string          `json:"mention_pattern,omitempty"`
	AddedAt         time.Time       `json:"added_at"`
	AddedBy         string          `json:"added_by"`
	ContainerConfig ContainerConfig `json:"container_config,omitempty"`
}

// Registry is an in-memory mirror of a JSON array file, rewritten atomically
// on every mutation.
type Registry struct {
	mu       sync.RWMutex
	path     string
	chats    map[int64]Chat
	assistant string
}

// Load reads the registered-chats file at path, creating an empty one if it
// does not exist. assistantName supplies the default mention pattern.
func Load(path, assistantName string) (*Registry, error) {
	r := &Registry{path: path, chats: make(map[int64]Chat), assistant: assistantName}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if len(data) == 0 {
		return r, nil
	}

	var chats []Chat
	if err := json.Unmarshal(data, &chats); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	for _, c := range chats {
		r.chats[c.ChatID] = c
	}
	return r, nil
}

// IsRegistered reports whether chatID has a registration.
func (r *Registry) IsRegistered(chatID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.chats[chatID]
	return ok
}

// Get returns the registered chat, or nil if unregistered.
func (r *Registry) Get(chatID int64) *Chat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chats[chatID]
	if !ok {
		return nil
	}
	cc := c
	return &cc
}

// List returns every registered chat.
func (r *Registry) List() []Chat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Chat, 0, len(r.chats))
	for _, c := range r.chats {
		out = append(out, c)
	}
	return out
}

// Register adds or replaces a registration and persists the file.
func (r *Registry) Register(c Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.AddedAt.IsZero() {
		c.AddedAt = time.Now()
	}
	r.chats[c.ChatID] = c
	return r.persistLocked()
}

// Update mutates an existing registration via fn and persists the file. It
// is a no-op if the chat is not registered.
func (r *Registry) Update(chatID int64, fn func(*Chat)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[chatID]
	if !ok {
		return nil
	}
	fn(&c)
	r.chats[chatID] = c
	return r.persistLocked()
}

// Unregister removes a chat's registration and persists the file. Removal of
// an absent chat is tolerated.
func (r *Registry) Unregister(chatID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chats, chatID)
	return r.persistLocked()
}

func (r *Registry) persistLocked() error {
	chats := make([]Chat, 0, len(r.chats))
	for _, c := range r.chats {
		chats = append(chats, c)
	}
	data, err := json.MarshalIndent(chats, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp := r.path + ".tmp." + strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write registry temp file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename registry file: %w", err)
	}
	return nil
}

// MainWorkspace is the distinguished workspace that always fires, and whose
// register_chat/service_control mailbox actions carry elevated authority.
const MainWorkspace = "main"

// TriggerDecision is the result of evaluating whether a message fires
// dispatch, and the content to enqueue if it does.
type TriggerDecision struct {
	Fire    bool
	Content string
}

// Evaluate applies the trigger rule of spec.md §4.C for an incoming text
// message with content text observed in workspace F for chatID.
func (r *Registry) Evaluate(workspace string, chatID int64, text string) TriggerDecision {
	if workspace == MainWorkspace {
		return TriggerDecision{Fire: true, Content: text}
	}

	chat := r.Get(chatID)
	if chat == nil {
		return TriggerDecision{Fire: false}
	}

	switch chat.Mode {
	case TriggerAlways:
		return TriggerDecision{Fire: true, Content: text}
	case TriggerDisabled:
		return TriggerDecision{Fire: false}
	case TriggerMention:
		pattern := chat.MentionPattern
		if pattern == "" {
			pattern = "@" + r.assistant
		}
		if !containsFold(text, pattern) {
			return TriggerDecision{Fire: false}
		}
		return TriggerDecision{Fire: true, Content: stripAllFold(text, pattern)}
	default:
		return TriggerDecision{Fire: false}
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// stripAllFold removes every case-insensitive occurrence of pattern from s.
func stripAllFold(s, pattern string) string {
	if pattern == "" {
		return s
	}
	lowerS := strings.ToLower(s)
	lowerP := strings.ToLower(pattern)
	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(lowerS[i:], lowerP)
		if idx < 0 {
			b.WriteString(s[i:])
			break
		}
		b.WriteString(s[i : i+idx])
		i += idx + len(pattern)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
