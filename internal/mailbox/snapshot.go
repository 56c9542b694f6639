package mailbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TaskSnapshot mirrors one row of current_tasks.json.
type TaskSnapshot struct {
	ID            string  `json:"id"`
	Folder        string  `json:"folder"`
	Prompt        string  `json:"prompt"`
	ScheduleType  string  `json:"scheduleType"`
	ScheduleValue string  `json:"scheduleValue"`
	Status        string  `json:"status"`
	NextRun       *string `json:"nextRun"`
}

// ChatSnapshot mirrors one entry of available_chats.json's chats array.
type ChatSnapshot struct {
	ChatID   int64  `json:"chat_id"`
	ChatType string `json:"chat_type"`
	Title    string `json:"title"`
	Mode     string `json:"mode"`
}

type availableChats struct {
	Chats    []ChatSnapshot `json:"chats"`
	LastSync string         `json:"lastSync"`
}

// WriteCurrentTasks writes current_tasks.json to workspaceDir: the full task
// list for main, else only the workspace's own tasks.
func WriteCurrentTasks(workspaceDir string, tasks []TaskSnapshot) error {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal current_tasks: %w", err)
	}
	return writeFile(filepath.Join(workspaceDir, "current_tasks.json"), data)
}

// WriteAvailableChats writes available_chats.json to workspaceDir: the full
// registry for main, else an empty list.
func WriteAvailableChats(workspaceDir string, chats []ChatSnapshot) error {
	doc := availableChats{Chats: chats, LastSync: time.Now().UTC().Format(time.RFC3339)}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal available_chats: %w", err)
	}
	return writeFile(filepath.Join(workspaceDir, "available_chats.json"), data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename snapshot file: %w", err)
	}
	return nil
}
