package store

import "time"

// ChatType enumerates the kinds of conversation the chat platform delivers.
type ChatType string

const (
	ChatTypePrivate    ChatType = "private"
	ChatTypeGroup      ChatType = "group"
	ChatTypeSupergroup ChatType = "supergroup"
	ChatTypeChannel    ChatType = "channel"
)

// Chat is a conversation observed from the chat platform.
type Chat struct {
	ChatID       int64  `gorm:"primaryKey"`
	ChatType     ChatType
	Title        string
	LastActivity time.Time
}

// Topic is a subdivision of a chat, bound to a unique workspace folder.
type Topic struct {
	ChatID       int64  `gorm:"primaryKey"`
	TopicID      int64  `gorm:"primaryKey"`
	Name         string
	Folder       string `gorm:"uniqueIndex"`
	TriggerMode  string
	LastActivity time.Time
}

// MessageType enumerates the kinds of Message rows.
type MessageType string

const (
	MessageTypeText          MessageType = "text"
	MessageTypeReaction      MessageType = "reaction"
	MessageTypeAgentResponse MessageType = "agent_response"
)

// Message is a single inbound or outbound chat event, unique on
// (ChatID, TopicID, ID).
type Message struct {
	ChatID          int64 `gorm:"primaryKey"`
	TopicID         int64 `gorm:"primaryKey"`
	ID              int64 `gorm:"primaryKey"`
	SenderID        int64
	SenderName      string
	Content         string
	Type            MessageType
	Timestamp       time.Time `gorm:"index"`
	IsBot           bool
	ReplyTo         *int64
	ReactionEmoji   string
	ReactionAction  string
	TargetMessageID *int64
	WorkerSessionID string
}

// ScheduleType enumerates ScheduledTask recurrence kinds.
type ScheduleType string

const (
	ScheduleCron     ScheduleType = "cron"
	ScheduleInterval ScheduleType = "interval"
	ScheduleOnce     ScheduleType = "once"
)

// ContextMode controls whether a scheduled task reuses the workspace's
// current worker session or starts fresh.
type ContextMode string

const (
	ContextGroup    ContextMode = "group"
	ContextIsolated ContextMode = "isolated"
)

// TaskStatus enumerates ScheduledTask lifecycle states.
type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
)

// ScheduledTask is a timer-driven job bound to an owning workspace folder.
type ScheduledTask struct {
	ID             string `gorm:"primaryKey"`
	ChatID         int64
	TopicID        int64
	Folder         string `gorm:"index"`
	Prompt         string
	ScheduleType   ScheduleType
	ScheduleValue  string
	ContextMode    ContextMode
	NextRun        *time.Time `gorm:"index"`
	LastRun        *time.Time
	LastResult     string
	Status         TaskStatus `gorm:"index"`
	CreatedAt      time.Time
}

// RunStatus enumerates TaskRunLog outcomes.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// TaskRunLog is an append-only record of one scheduled task execution.
type TaskRunLog struct {
	ID         uint `gorm:"primaryKey;autoIncrement"`
	TaskID     string `gorm:"index"`
	RunAt      time.Time
	DurationMS int64
	Status     RunStatus
	Result     string
	Error      string
}

// WorkerSession remembers the last session token a worker returned for a
// workspace, so a warm or cold worker can resume context.
type WorkerSession struct {
	Folder    string `gorm:"primaryKey"`
	SessionID string
	UpdatedAt time.Time
}
