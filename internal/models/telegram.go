package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramMessage holds the data for a run notification.
type TelegramMessage struct {
	Success    bool
	Operation  string
	Host       string
	Repository string
	Archive    string // archive or snapshot name for create runs
	StartTime  time.Time
	Duration   time.Duration
	FreeBytes  uint64 // free space in the temp dir, 0 if not checked

	// Fleet stats (fleet operations only).
	TargetsTotal  int
	TargetsFailed []string

	// Error info (if failed).
	FailedStep   string
	ErrorMessage string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
