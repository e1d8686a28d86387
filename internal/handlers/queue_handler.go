package handlers

import (
	"net/http"
	"strings"

	"office-hours-queue/internal/services"
	"office-hours-queue/models"
	"office-hours-queue/utils"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type QueueHandler struct {
	queueService *services.QueueService
	channels     *utils.ChannelNamer
}

func NewQueueHandler(queueService *services.QueueService, channels *utils.ChannelNamer) *QueueHandler {
	return &QueueHandler{
		queueService: queueService,
		channels:     channels,
	}
}

type contentRequest struct {
	Question string `json:"question"`
	Location string `json:"location"`
	Topic    string `json:"topic"`
}

func (r *contentRequest) normalize() {
	r.Question = strings.TrimSpace(r.Question)
	r.Location = strings.TrimSpace(r.Location)
	r.Topic = strings.TrimSpace(r.Topic)
}

func (r contentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Question, validation.Required, validation.Length(1, 2000)),
		validation.Field(&r.Location, validation.Length(0, 200)),
		validation.Field(&r.Topic, validation.Length(0, 200)),
	)
}

func (r contentRequest) content() models.Content {
	return models.Content{Question: r.Question, Location: r.Location, Topic: r.Topic}
}

// JoinQueue - Add the caller to the queue
func (h *QueueHandler) JoinQueue(e *core.RequestEvent) error {
	if err := requireAuth(e); err != nil {
		return err
	}

	var req struct {
		contentRequest
		Override bool `json:"override"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	req.normalize()
	if err := req.Validate(); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	result, err := h.queueService.Join(e.Request.Context(), services.JoinRequest{
		RequesterID: e.Auth.Id,
		DisplayName: displayName(e.Auth),
		Content:     req.content(),
		Override:    req.Override,
	})
	if err != nil {
		return queueError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"status":             result.Status,
		"position":           result.Position,
		"blocked":            result.Blocked,
		"minutes_since_exit": result.MinutesSinceExit,
		"override_allowed":   result.OverrideAllowed,
	})
}

// LeaveQueue - Remove the caller from the queue
func (h *QueueHandler) LeaveQueue(e *core.RequestEvent) error {
	if err := requireAuth(e); err != nil {
		return err
	}

	res, err := h.queueService.Leave(e.Request.Context(), e.Auth.Id)
	if err != nil {
		return queueError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"message":         "Successfully left queue",
		"history_pending": res.HistoryErr != nil,
	})
}

// UpdateQuestion - Replace the caller's question, clearing a revision request
func (h *QueueHandler) UpdateQuestion(e *core.RequestEvent) error {
	if err := requireAuth(e); err != nil {
		return err
	}

	var req contentRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	req.normalize()
	if err := req.Validate(); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	snap, err := h.queueService.SubmitRevision(e.Request.Context(), e.Auth.Id, req.content())
	if err != nil {
		return queueError(err)
	}
	return e.JSON(http.StatusOK, snap)
}

// DismissMessage - Acknowledge a helper's message
func (h *QueueHandler) DismissMessage(e *core.RequestEvent) error {
	if err := requireAuth(e); err != nil {
		return err
	}

	snap, err := h.queueService.DismissMessage(e.Request.Context(), e.Auth.Id)
	if err != nil {
		return queueError(err)
	}
	return e.JSON(http.StatusOK, snap)
}

// GetMyEntry - The caller's entry and position
func (h *QueueHandler) GetMyEntry(e *core.RequestEvent) error {
	if err := requireAuth(e); err != nil {
		return err
	}

	snap, err := h.queueService.Entry(e.Auth.Id)
	if err != nil {
		return queueError(err)
	}
	return e.JSON(http.StatusOK, snap)
}

// GetQueueData - Public queue summary
func (h *QueueHandler) GetQueueData(e *core.RequestEvent) error {
	return e.JSON(http.StatusOK, h.queueService.QueueData(e.Request.Context()))
}

// GetChannels - Realtime channels the caller should subscribe to
func (h *QueueHandler) GetChannels(e *core.RequestEvent) error {
	if err := requireAuth(e); err != nil {
		return err
	}

	channels := map[string]string{
		"public":  utils.PublicQueueChannel,
		"private": h.channels.Requester(e.Auth.Id),
	}
	if e.Auth.GetBool("is_helper") || e.Auth.GetBool("is_admin") {
		channels["helpers"] = h.channels.Helpers()
	}
	return e.JSON(http.StatusOK, channels)
}
