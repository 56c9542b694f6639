// Package store is the supervisor's single durable persistence layer: chats,
// topics, messages, scheduled tasks, task run logs, and worker session
// tokens, all backed by an embedded SQLite database through gorm.
package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store wraps a gorm connection to the embedded relational database.
type Store struct {
	db *gorm.DB
}

// Open connects to (and migrates) the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?cache=shared&_journal_mode=WAL&_foreign_keys=on", path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if err := db.AutoMigrate(&Chat{}, &Topic{}, &Message{}, &ScheduledTask{}, &TaskRunLog{}, &WorkerSession{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertChat creates or updates a Chat row.
func (s *Store) UpsertChat(ctx context.Context, chat Chat) error {
	return s.db.WithContext(ctx).Save(&chat).Error
}

// UpsertTopic creates or updates a Topic row, keyed on (ChatID, TopicID).
func (s *Store) UpsertTopic(ctx context.Context, topic Topic) error {
	return s.db.WithContext(ctx).Save(&topic).Error
}

// TopicByKey looks up a topic by its (ChatID, TopicID) identity.
func (s *Store) TopicByKey(ctx context.Context, chatID, topicID int64) (*Topic, error) {
	var t Topic
	err := s.db.WithContext(ctx).Where("chat_id = ? AND topic_id = ?", chatID, topicID).First(&t).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// TopicByFolder looks up a topic by its unique workspace folder name.
func (s *Store) TopicByFolder(ctx context.Context, folder string) (*Topic, error) {
	var t Topic
	err := s.db.WithContext(ctx).Where("folder = ?", folder).First(&t).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// TopicsForChat returns every topic ever observed for a chat.
func (s *Store) TopicsForChat(ctx context.Context, chatID int64) ([]Topic, error) {
	var topics []Topic
	err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Find(&topics).Error
	return topics, err
}

// FolderTaken reports whether a workspace folder is already assigned to a
// different (chat_id, topic_id) than the one given.
func (s *Store) FolderTaken(ctx context.Context, folder string, chatID, topicID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Topic{}).
		Where("folder = ? AND NOT (chat_id = ? AND topic_id = ?)", folder, chatID, topicID).
		Count(&count).Error
	return count > 0, err
}

// StoreMessage inserts a message, idempotent on its (chat, topic, id) primary key.
func (s *Store) StoreMessage(ctx context.Context, msg Message) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&msg).Error
}

// MessagesSince returns messages for (chat, topic) strictly newer than
// sinceTS, ordered by timestamp, optionally excluding content with a given
// prefix (used by Dispatch Core to skip the assistant's own echoed replies).
func (s *Store) MessagesSince(ctx context.Context, chatID, topicID int64, sinceTS time.Time, excludePrefix string) ([]Message, error) {
	q := s.db.WithContext(ctx).
		Where("chat_id = ? AND topic_id = ? AND timestamp > ? AND type = ?", chatID, topicID, sinceTS, MessageTypeText).
		Order("timestamp ASC")
	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	if excludePrefix == "" {
		return msgs, nil
	}
	filtered := msgs[:0]
	for _, m := range msgs {
		if len(m.Content) >= len(excludePrefix) && m.Content[:len(excludePrefix)] == excludePrefix {
			continue
		}
		filtered = append(filtered, m)
	}
	return filtered, nil
}

// CreateTask persists a new scheduled task.
func (s *Store) CreateTask(ctx context.Context, task ScheduledTask) error {
	return s.db.WithContext(ctx).Create(&task).Error
}

// GetTask fetches a scheduled task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*ScheduledTask, error) {
	var t ScheduledTask
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// UpdateTask overwrites a scheduled task's mutable fields.
func (s *Store) UpdateTask(ctx context.Context, task ScheduledTask) error {
	return s.db.WithContext(ctx).Save(&task).Error
}

// DeleteTask removes a scheduled task (used by cancel_task).
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&ScheduledTask{}, "id = ?", id).Error
}

// TasksForFolder returns every task owned by the given workspace folder.
func (s *Store) TasksForFolder(ctx context.Context, folder string) ([]ScheduledTask, error) {
	var tasks []ScheduledTask
	err := s.db.WithContext(ctx).Where("folder = ?", folder).Find(&tasks).Error
	return tasks, err
}

// AllTasks returns every scheduled task, for the main workspace's snapshot.
func (s *Store) AllTasks(ctx context.Context) ([]ScheduledTask, error) {
	var tasks []ScheduledTask
	err := s.db.WithContext(ctx).Find(&tasks).Error
	return tasks, err
}

// DueTasks returns active tasks whose next_run is at or before now, ordered
// by next_run ascending.
func (s *Store) DueTasks(ctx context.Context, now time.Time) ([]ScheduledTask, error) {
	var tasks []ScheduledTask
	err := s.db.WithContext(ctx).
		Where("status = ? AND next_run IS NOT NULL AND next_run <= ?", TaskActive, now).
		Order("next_run ASC").
		Find(&tasks).Error
	return tasks, err
}

// UpdateAfterRun sets last_run/last_result/next_run and transitions status
// to completed when nextRun is nil, per spec.md's ScheduledTask invariants.
func (s *Store) UpdateAfterRun(ctx context.Context, taskID string, runAt time.Time, nextRun *time.Time, result string) error {
	status := TaskActive
	if nextRun == nil {
		status = TaskCompleted
	}
	if len(result) > 200 {
		result = result[:200]
	}
	return s.db.WithContext(ctx).Model(&ScheduledTask{}).Where("id = ?", taskID).Updates(map[string]any{
		"last_run":    runAt,
		"last_result": result,
		"next_run":    nextRun,
		"status":      status,
	}).Error
}

// LogRun appends a TaskRunLog row.
func (s *Store) LogRun(ctx context.Context, logEntry TaskRunLog) error {
	return s.db.WithContext(ctx).Create(&logEntry).Error
}

// AllFolders returns every workspace folder with a topic row, for the
// mailbox poller's scan list.
func (s *Store) AllFolders(ctx context.Context) ([]string, error) {
	var folders []string
	err := s.db.WithContext(ctx).Model(&Topic{}).Distinct().Pluck("folder", &folders).Error
	return folders, err
}

// SaveWorkerSession persists the last known worker session token for a workspace.
func (s *Store) SaveWorkerSession(ctx context.Context, folder, sessionID string) error {
	ws := WorkerSession{Folder: folder, SessionID: sessionID, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Save(&ws).Error
}

// WorkerSessionID returns the last known session token for a workspace, or
// empty if none is recorded.
func (s *Store) WorkerSessionID(ctx context.Context, folder string) (string, error) {
	var ws WorkerSession
	err := s.db.WithContext(ctx).Where("folder = ?", folder).First(&ws).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", err
	}
	return ws.SessionID, nil
}
