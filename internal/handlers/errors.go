package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"office-hours-queue/internal/status"
	"office-hours-queue/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// queueError maps engine errors onto API errors. Anything the engine does not
// recognise is logged and reported as a 500 without detail.
func queueError(err error) error {
	var illegal *status.IllegalTransitionError
	switch {
	case errors.Is(err, status.ErrNotQueued):
		return apis.NewNotFoundError("Not on the queue", nil)
	case errors.Is(err, status.ErrQueueFrozen):
		return apis.NewForbiddenError("The queue is closed", nil)
	case errors.As(err, &illegal):
		return apis.NewApiError(http.StatusConflict, "That action is not allowed right now", map[string]any{
			"from": illegal.From,
			"to":   illegal.To,
		})
	case status.IsClientError(err):
		return apis.NewApiError(http.StatusConflict, err.Error(), nil)
	}
	slog.Error("queue operation failed", "error", err)
	return apis.NewInternalServerError("Something went wrong", nil)
}

func requireAuth(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}
	return nil
}

func requireHelper(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}
	if !e.Auth.GetBool("is_helper") && !e.Auth.GetBool("is_admin") {
		return apis.NewForbiddenError("Helper access required", nil)
	}
	return nil
}

func requireAdmin(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}
	if !e.Auth.GetBool("is_admin") {
		return apis.NewForbiddenError("Admin access required", nil)
	}
	return nil
}

func displayName(auth *core.Record) string {
	if name := auth.GetString("name"); name != "" {
		return name
	}
	return auth.Email()
}

func helperInfo(auth *core.Record) models.HelperInfo {
	return models.HelperInfo{
		ID:         auth.Id,
		Name:       displayName(auth),
		VideoChat:  auth.GetBool("video_chat_enabled"),
		ContactURL: auth.GetString("contact_url"),
	}
}
