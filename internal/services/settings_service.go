package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"office-hours-queue/models"

	"github.com/redis/go-redis/v9"
)

const courseSettingsKey = "settings:course"

var ErrInvalidSettings = errors.New("rejoin minutes must not be negative")

// SettingsService keeps the admin-editable course settings in a Redis hash.
// They are read on every admission, so an update takes effect immediately.
type SettingsService struct {
	Redis    redis.Cmdable
	defaults models.CourseSettings
}

func NewSettingsService(redisClient redis.Cmdable, defaults models.CourseSettings) *SettingsService {
	return &SettingsService{Redis: redisClient, defaults: defaults}
}

// Get returns the stored settings, falling back field by field to the
// configured defaults when a value is missing or unreadable.
func (s *SettingsService) Get(ctx context.Context) (models.CourseSettings, error) {
	values, err := s.Redis.HGetAll(ctx, courseSettingsKey).Result()
	if err != nil {
		return s.defaults, fmt.Errorf("load course settings: %w", err)
	}

	settings := s.defaults
	if raw, ok := values["rejoin_minutes"]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			settings.RejoinMinutes = n
		} else {
			slog.Warn("ignoring invalid rejoin_minutes", "value", raw)
		}
	}
	if raw, ok := values["allow_cooldown_override"]; ok {
		if b, err := strconv.ParseBool(raw); err == nil {
			settings.AllowOverride = b
		} else {
			slog.Warn("ignoring invalid allow_cooldown_override", "value", raw)
		}
	}
	return settings, nil
}

func (s *SettingsService) Update(ctx context.Context, settings models.CourseSettings) error {
	if settings.RejoinMinutes < 0 {
		return ErrInvalidSettings
	}
	err := s.Redis.HSet(ctx, courseSettingsKey,
		"rejoin_minutes", strconv.Itoa(settings.RejoinMinutes),
		"allow_cooldown_override", strconv.FormatBool(settings.AllowOverride),
	).Err()
	if err != nil {
		return fmt.Errorf("save course settings: %w", err)
	}
	slog.Info("course settings updated",
		"rejoin_minutes", settings.RejoinMinutes,
		"allow_cooldown_override", settings.AllowOverride,
	)
	return nil
}
