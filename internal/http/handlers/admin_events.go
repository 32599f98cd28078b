package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/geocoder89/chime/internal/config"
	"github.com/geocoder89/chime/internal/domain/event"
	"github.com/geocoder89/chime/internal/utils"
	"github.com/gin-gonic/gin"
)

type AdminEventsRepo interface {
	ListCursor(
		ctx context.Context,
		status *string,
		limit int,
		afterUpdatedAt time.Time,
		afterID string,
	) (items []event.Event, hasMore bool, err error)
	FindByID(ctx context.Context, id string) (event.Event, error)
	Update(ctx context.Context, e event.Event) error
}

type AdminEventsHandler struct {
	repo AdminEventsRepo
}

func NewAdminEventsHandler(repo AdminEventsRepo) *AdminEventsHandler {
	return &AdminEventsHandler{repo: repo}
}

var listableStatuses = map[string]bool{
	string(event.StatusPending):    true,
	string(event.StatusProcessing): true,
	string(event.StatusCompleted):  true,
	string(event.StatusFailed):     true,
}

// GET /admin/events?status=FAILED&limit=50&cursor=...
func (h *AdminEventsHandler) List(ctx *gin.Context) {
	limit := parseIntDefault(ctx.Query("limit"), 20)
	if limit < 1 || limit > 100 {
		RespondBadRequest(ctx, "limit must be between 1 and 100", nil)
		return
	}

	var statusPtr *string
	if s := ctx.Query("status"); s != "" {
		if !listableStatuses[s] {
			RespondBadRequest(ctx, "unknown status", nil)
			return
		}
		statusPtr = &s
	}

	// DESC first-page sentinel: "far future" + max UUID
	afterUpdatedAt := time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
	afterID := "ffffffff-ffff-ffff-ffff-ffffffffffff"

	if cursor := ctx.Query("cursor"); cursor != "" {
		cur, err := utils.DecodeEventCursor(cursor)
		if err != nil {
			RespondBadRequest(ctx, "cursor is invalid", nil)
			return
		}
		afterUpdatedAt = cur.UpdatedAt
		afterID = cur.ID
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	items, hasMore, err := h.repo.ListCursor(cctx, statusPtr, limit, afterUpdatedAt, afterID)
	if err != nil {
		RespondInternal(ctx, "Could not list events")
		return
	}

	var nextCursor *string
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		if enc, encErr := utils.EncodeEventCursor(last.UpdatedAt, last.ID); encErr == nil {
			nextCursor = &enc
		}
	}

	ctx.JSON(http.StatusOK, gin.H{
		"limit":      limit,
		"count":      len(items),
		"items":      items,
		"hasMore":    hasMore,
		"nextCursor": nextCursor,
	})
}

// GET /admin/events/:id
func (h *AdminEventsHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", nil)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	e, err := h.repo.FindByID(cctx, id)
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			RespondNotFound(ctx, "Event not found")
			return
		}
		RespondInternal(ctx, "Could not fetch event")
		return
	}

	ctx.JSON(http.StatusOK, e)
}

// POST /admin/events/:id/requeue
//
// Returns a FAILED occurrence to PENDING so the next scheduler tick picks
// it up. Only events with retry budget left qualify.
func (h *AdminEventsHandler) Requeue(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", nil)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	e, err := h.repo.FindByID(cctx, id)
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			RespondNotFound(ctx, "Event not found")
			return
		}
		RespondInternal(ctx, "Could not fetch event")
		return
	}

	requeued, err := e.Requeue()
	if err != nil {
		RespondConflict(ctx, "not_retryable", "Event is not retryable")
		return
	}

	if err := h.repo.Update(cctx, requeued); err != nil {
		switch {
		case errors.Is(err, event.ErrOptimisticLockConflict):
			RespondConflict(ctx, "conflict", "Event changed concurrently, retry the request")
		case errors.Is(err, event.ErrNotFound):
			RespondNotFound(ctx, "Event not found")
		default:
			RespondInternal(ctx, "Could not requeue event")
		}
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"eventId": id,
		"status":  string(requeued.Status),
	})
}

func parseIntDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
