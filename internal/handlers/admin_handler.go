package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"office-hours-queue/internal/services"
	"office-hours-queue/models"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"
)

type AdminHandler struct {
	queueService    *services.QueueService
	settingsService *services.SettingsService
}

func NewAdminHandler(queueService *services.QueueService, settingsService *services.SettingsService) *AdminHandler {
	return &AdminHandler{
		queueService:    queueService,
		settingsService: settingsService,
	}
}

type targetRequest struct {
	RequesterID string `json:"requester_id"`
	Text        string `json:"text"`
}

func bindTarget(e *core.RequestEvent) (targetRequest, error) {
	var req targetRequest
	if err := e.BindBody(&req); err != nil {
		return req, apis.NewBadRequestError("Invalid request", err)
	}
	req.RequesterID = strings.TrimSpace(req.RequesterID)
	req.Text = strings.TrimSpace(req.Text)
	if req.RequesterID == "" {
		return req, apis.NewBadRequestError("Invalid request", errors.New("requester_id must not be empty"))
	}
	return req, nil
}

// GetQueue - Every live entry in queue order
func (h *AdminHandler) GetQueue(e *core.RequestEvent) error {
	if err := requireHelper(e); err != nil {
		return err
	}
	return e.JSON(http.StatusOK, map[string]any{
		"entries": h.queueService.Entries(),
		"data":    h.queueService.QueueData(e.Request.Context()),
	})
}

// ClaimEntry - Start helping a requester
func (h *AdminHandler) ClaimEntry(e *core.RequestEvent) error {
	return h.entryAction(e, func(req targetRequest) (*models.EntrySnapshot, error) {
		return h.queueService.Claim(e.Request.Context(), req.RequesterID, helperInfo(e.Auth))
	})
}

// ReleaseEntry - Put a claimed requester back to waiting
func (h *AdminHandler) ReleaseEntry(e *core.RequestEvent) error {
	return h.entryAction(e, func(req targetRequest) (*models.EntrySnapshot, error) {
		return h.queueService.Release(e.Request.Context(), req.RequesterID)
	})
}

// RequestFix - Ask a requester to revise their question
func (h *AdminHandler) RequestFix(e *core.RequestEvent) error {
	return h.entryAction(e, func(req targetRequest) (*models.EntrySnapshot, error) {
		return h.queueService.RequestRevision(e.Request.Context(), req.RequesterID)
	})
}

// SendMessage - Leave a message for a requester
func (h *AdminHandler) SendMessage(e *core.RequestEvent) error {
	return h.entryAction(e, func(req targetRequest) (*models.EntrySnapshot, error) {
		err := validation.Validate(req.Text, validation.Required, validation.Length(1, 1000))
		if err != nil {
			return nil, apis.NewBadRequestError("Invalid message", err)
		}
		return h.queueService.SendMessage(e.Request.Context(), req.RequesterID, helperInfo(e.Auth), req.Text)
	})
}

// ApproveOverride - Let a cooldown violator into the queue proper
func (h *AdminHandler) ApproveOverride(e *core.RequestEvent) error {
	return h.entryAction(e, func(req targetRequest) (*models.EntrySnapshot, error) {
		return h.queueService.ApproveOverride(e.Request.Context(), req.RequesterID)
	})
}

// FinishEntry - End a session and record the requester as helped
func (h *AdminHandler) FinishEntry(e *core.RequestEvent) error {
	return h.exitAction(e, h.queueService.Finish)
}

// RemoveEntry - Take a requester off the queue without helping them
func (h *AdminHandler) RemoveEntry(e *core.RequestEvent) error {
	return h.exitAction(e, h.queueService.Remove)
}

// FreezeQueue - Stop new admissions
func (h *AdminHandler) FreezeQueue(e *core.RequestEvent) error {
	return h.setFrozen(e, true)
}

// UnfreezeQueue - Reopen the queue
func (h *AdminHandler) UnfreezeQueue(e *core.RequestEvent) error {
	return h.setFrozen(e, false)
}

// GetStats - History summary, by default for the last 24 hours
func (h *AdminHandler) GetStats(e *core.RequestEvent) error {
	if err := requireHelper(e); err != nil {
		return err
	}

	since := time.Now().Add(-24 * time.Hour)
	if raw := e.Request.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return apis.NewBadRequestError("since must be an RFC 3339 timestamp", err)
		}
		since = t
	}

	stats, err := h.queueService.Stats(e.Request.Context(), since)
	if err != nil {
		slog.Error("h.queueService.Stats()", "error", err)
		return apis.NewInternalServerError("Failed to load stats", nil)
	}
	return e.JSON(http.StatusOK, stats)
}

// GetSettings - Current course settings
func (h *AdminHandler) GetSettings(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}
	settings, err := h.settingsService.Get(e.Request.Context())
	if err != nil {
		slog.Warn("h.settingsService.Get()", "error", err)
	}
	return e.JSON(http.StatusOK, settings)
}

// UpdateSettings - Save course settings; the next admission uses them
func (h *AdminHandler) UpdateSettings(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	var req models.CourseSettings
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if err := h.settingsService.Update(e.Request.Context(), req); err != nil {
		if errors.Is(err, services.ErrInvalidSettings) {
			return apis.NewBadRequestError("Invalid settings", err)
		}
		slog.Error("h.settingsService.Update()", "error", err)
		return apis.NewInternalServerError("Failed to save settings", nil)
	}

	slog.Info("settings changed by admin", "admin_id", e.Auth.Id)
	return e.JSON(http.StatusOK, req)
}

func (h *AdminHandler) entryAction(e *core.RequestEvent, fn func(req targetRequest) (*models.EntrySnapshot, error)) error {
	if err := requireHelper(e); err != nil {
		return err
	}
	req, err := bindTarget(e)
	if err != nil {
		return err
	}

	snap, err := fn(req)
	if err != nil {
		var apiErr *router.ApiError
		if errors.As(err, &apiErr) {
			return apiErr
		}
		return queueError(err)
	}
	return e.JSON(http.StatusOK, snap)
}

func (h *AdminHandler) exitAction(e *core.RequestEvent, fn func(ctx context.Context, requesterID string) (services.WithdrawResult, error)) error {
	if err := requireHelper(e); err != nil {
		return err
	}
	req, err := bindTarget(e)
	if err != nil {
		return err
	}

	res, err := fn(e.Request.Context(), req.RequesterID)
	if err != nil {
		return queueError(err)
	}

	slog.Info("helper removed entry", "helper_id", e.Auth.Id, "requester_id", req.RequesterID)
	return e.JSON(http.StatusOK, map[string]any{
		"entry":           res.Entry,
		"history_pending": res.HistoryErr != nil,
	})
}

func (h *AdminHandler) setFrozen(e *core.RequestEvent, frozen bool) error {
	if err := requireHelper(e); err != nil {
		return err
	}
	return e.JSON(http.StatusOK, h.queueService.SetFrozen(e.Request.Context(), frozen))
}
