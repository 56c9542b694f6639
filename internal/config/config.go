// Package config loads the supervisor's configuration from environment
// variables (optionally backed by a .env file), applying the same
// defaults-then-override shape the rest of the pack uses.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every tunable the supervisor reads at startup.
type Config struct {
	AssistantName string

	SchedulerPollInterval time.Duration
	MailboxPollInterval   time.Duration

	ContainerRuntime string
	ContainerImage   string
	ContainerTimeout time.Duration
	MaxOutputBytes   int64
	WarmIdleTimeout  time.Duration

	Timezone string
	LogLevel string
	BotToken string

	ProjectRoot       string
	StorePath         string
	WorkspacesRoot    string
	MountAllowlistPath string

	StatusAddr string
}

// Default returns the config with every default applied, matching the
// teacher's package-level-var-then-override style collapsed into a
// constructor so tests can build independent instances.
func Default() Config {
	return Config{
		AssistantName:         "Nanoclaw",
		SchedulerPollInterval: 60 * time.Second,
		MailboxPollInterval:   1 * time.Second,
		ContainerRuntime:      "docker",
		ContainerImage:        "nanoclaw/worker:latest",
		ContainerTimeout:      5 * time.Minute,
		MaxOutputBytes:        10 * 1024 * 1024,
		WarmIdleTimeout:       30 * time.Minute,
		Timezone:              "UTC",
		LogLevel:              "info",
		ProjectRoot:           ".",
		StorePath:             "storages/supervisor.db",
		WorkspacesRoot:        "storages/workspaces",
		MountAllowlistPath:    "storages/mount-allowlist.json",
		StatusAddr:            ":8089",
	}
}

// Load reads a .env file (if present), binds environment variables via
// viper, and returns a validated Config.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for _, key := range []string{
		"assistant_name", "scheduler_poll_interval", "mailbox_poll_interval",
		"container_runtime", "container_image", "container_timeout",
		"max_output_bytes", "warm_idle_timeout", "timezone", "log_level",
		"bot_token", "project_root", "store_path", "workspaces_root",
		"mount_allowlist_path", "status_addr",
	} {
		_ = v.BindEnv(key, strings.ToUpper(key))
	}

	cfg := Default()

	if s := v.GetString("assistant_name"); s != "" {
		cfg.AssistantName = s
	}
	if d, err := parseDuration(v.GetString("scheduler_poll_interval")); err == nil && d > 0 {
		cfg.SchedulerPollInterval = d
	}
	if d, err := parseDuration(v.GetString("mailbox_poll_interval")); err == nil && d > 0 {
		cfg.MailboxPollInterval = d
	}
	if s := v.GetString("container_runtime"); s != "" {
		cfg.ContainerRuntime = s
	}
	if s := v.GetString("container_image"); s != "" {
		cfg.ContainerImage = s
	}
	if d, err := parseDuration(v.GetString("container_timeout")); err == nil && d > 0 {
		cfg.ContainerTimeout = d
	}
	if s := v.GetString("max_output_bytes"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
			cfg.MaxOutputBytes = n
		}
	}
	if d, err := parseDuration(v.GetString("warm_idle_timeout")); err == nil && d != 0 {
		cfg.WarmIdleTimeout = d
	}
	if s := v.GetString("timezone"); s != "" {
		cfg.Timezone = s
	}
	if s := v.GetString("log_level"); s != "" {
		cfg.LogLevel = s
	}
	if s := v.GetString("bot_token"); s != "" {
		cfg.BotToken = s
	}
	if s := v.GetString("project_root"); s != "" {
		cfg.ProjectRoot = s
	}
	if s := v.GetString("store_path"); s != "" {
		cfg.StorePath = s
	}
	if s := v.GetString("workspaces_root"); s != "" {
		cfg.WorkspacesRoot = s
	}
	if s := v.GetString("mount_allowlist_path"); s != "" {
		cfg.MountAllowlistPath = s
	}
	if s := v.GetString("status_addr"); s != "" {
		cfg.StatusAddr = s
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

func (c Config) validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.BotToken, validation.Required),
		validation.Field(&c.WorkspacesRoot, validation.Required),
		validation.Field(&c.MaxOutputBytes, validation.Min(int64(1))),
		validation.Field(&c.Timezone, validation.Required, validation.By(validTimezone)),
	)
	return err
}

func validTimezone(value interface{}) error {
	tz, _ := value.(string)
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return nil
}
