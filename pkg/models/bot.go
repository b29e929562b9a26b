// Package models defines the data types shared across the botrunner engine.
package models

// BotStatus represents the lifecycle state of a bot
type BotStatus string

// Bot statuses
const (
	BotStatusActive  BotStatus = "active"
	BotStatusPaused  BotStatus = "paused"
	BotStatusStopped BotStatus = "stopped"
)

// TriggerType identifies how a bot execution was started
type TriggerType string

// Trigger types
const (
	TriggerManual   TriggerType = "manual"
	TriggerSchedule TriggerType = "schedule"
	TriggerWebhook  TriggerType = "webhook"
)

// Bot is a user-owned automation unit with a trigger configuration and
// an ordered action list. The engine reads bots; the surrounding CRUD
// application owns them.
type Bot struct {
	// ID of the bot
	ID string `json:"id"`

	// UserID is the ID of the user that owns the bot
	UserID string `json:"user_id"`

	// Name of the bot
	Name string `json:"name"`

	// Status of the bot; only an active bot may execute
	Status BotStatus `json:"status"`

	// Config holds the trigger configuration and action list
	Config BotConfig `json:"config"`
}

// BotConfig holds a bot's trigger type and ordered action list
type BotConfig struct {
	// TriggerType the bot is configured for
	TriggerType TriggerType `json:"trigger_type"`

	// Actions to run, in order, when the bot is triggered
	Actions []Action `json:"actions"`
}

// Action is one opaque unit of work within a bot's action list. The
// engine never interprets Type or Params; the ActionRunner capability
// does.
type Action struct {
	// ID of the action
	ID string `json:"id"`

	// Type identifies the capability, e.g. "http_request", "notify"
	Type string `json:"type"`

	// Params is the capability-specific configuration blob
	Params map[string]interface{} `json:"params,omitempty"`
}

// IsActive reports whether the bot is allowed to execute
func (b *Bot) IsActive() bool {
	return b.Status == BotStatusActive
}
