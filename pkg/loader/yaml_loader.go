// Package loader reads bot definitions from YAML files so the engine
// can be exercised without the surrounding CRUD application.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tcmartin/botrunner/pkg/models"
)

// botFile is the YAML form of a bot definition plus its optional schedule
type botFile struct {
	ID     string `yaml:"id"`
	UserID string `yaml:"user_id"`
	Name   string `yaml:"name"`
	Status string `yaml:"status"`
	Config struct {
		TriggerType string `yaml:"trigger_type"`
		Actions     []struct {
			ID     string                 `yaml:"id"`
			Type   string                 `yaml:"type"`
			Params map[string]interface{} `yaml:"params"`
		} `yaml:"actions"`
	} `yaml:"config"`
	Schedule *struct {
		Type           string     `yaml:"type"`
		CronExpression string     `yaml:"cron_expression"`
		OneTimeDate    *time.Time `yaml:"one_time_date"`
		Timezone       string     `yaml:"timezone"`
		Enabled        bool       `yaml:"enabled"`
	} `yaml:"schedule"`
}

// ParseBot parses one YAML bot definition
func ParseBot(data []byte) (models.Bot, *models.Schedule, error) {
	var file botFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return models.Bot{}, nil, fmt.Errorf("failed to parse bot definition: %w", err)
	}

	if file.ID == "" {
		return models.Bot{}, nil, fmt.Errorf("bot definition is missing an id")
	}
	if file.Config.TriggerType == "" {
		return models.Bot{}, nil, fmt.Errorf("bot %s is missing a trigger type", file.ID)
	}

	bot := models.Bot{
		ID:     file.ID,
		UserID: file.UserID,
		Name:   file.Name,
		Status: models.BotStatus(file.Status),
	}
	if bot.Status == "" {
		bot.Status = models.BotStatusActive
	}

	bot.Config.TriggerType = models.TriggerType(file.Config.TriggerType)
	for _, action := range file.Config.Actions {
		bot.Config.Actions = append(bot.Config.Actions, models.Action{
			ID:     action.ID,
			Type:   action.Type,
			Params: action.Params,
		})
	}

	if file.Schedule == nil {
		return bot, nil, nil
	}

	sched := &models.Schedule{
		BotID:          bot.ID,
		Type:           models.ScheduleType(file.Schedule.Type),
		CronExpression: file.Schedule.CronExpression,
		Timezone:       file.Schedule.Timezone,
		Enabled:        file.Schedule.Enabled,
	}
	if file.Schedule.OneTimeDate != nil {
		sched.OneTimeDate = *file.Schedule.OneTimeDate
	}

	return bot, sched, nil
}

// LoadDir parses every .yaml/.yml file in dir
func LoadDir(dir string) ([]models.Bot, []models.Schedule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read bot directory: %w", err)
	}

	var bots []models.Bot
	var schedules []models.Schedule

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}

		bot, sched, err := ParseBot(data)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}

		bots = append(bots, bot)
		if sched != nil {
			schedules = append(schedules, *sched)
		}
	}

	return bots, schedules, nil
}
