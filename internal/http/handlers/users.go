package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/chime/internal/config"
	"github.com/geocoder89/chime/internal/domain/user"
	"github.com/geocoder89/chime/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type UsersRepo interface {
	Create(ctx context.Context, u user.Info) error
	GetByID(ctx context.Context, id string) (user.Info, error)
	Update(ctx context.Context, u user.Info) error
	Delete(ctx context.Context, id string) error
}

// Publisher is the bus surface the facade needs: fire the domain event,
// reactors take it from there.
type Publisher interface {
	Publish(ctx context.Context, eventType string, evt any)
}

type UsersHandler struct {
	repo UsersRepo
	bus  Publisher
}

func NewUsersHandler(repo UsersRepo, bus Publisher) *UsersHandler {
	return &UsersHandler{repo: repo, bus: bus}
}

type CreateUserRequest struct {
	FirstName   string `json:"firstName" binding:"required,min=1,max=100"`
	LastName    string `json:"lastName" binding:"required,min=1,max=100"`
	DateOfBirth string `json:"dateOfBirth" binding:"required,datetime=2006-01-02"`
	Timezone    string `json:"timezone" binding:"required,timezone"`
	WebhookURL  string `json:"webhookUrl" binding:"required,url"`
}

// UpdateUserRequest is a full-replace PUT body; partial updates are not
// supported.
type UpdateUserRequest = CreateUserRequest

// POST /users
func (h *UsersHandler) CreateUser(ctx *gin.Context) {
	var req CreateUserRequest

	if !BindJSON(ctx, &req) {
		return
	}

	dob, ok := parseDOB(ctx, req.DateOfBirth)
	if !ok {
		return
	}

	now := time.Now().UTC()
	u := user.Info{
		ID:          uuid.NewString(),
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DateOfBirth: dob,
		Timezone:    req.Timezone,
		WebhookURL:  req.WebhookURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	if err := h.repo.Create(cctx, u); err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	h.bus.Publish(ctx.Request.Context(), user.EventCreated, user.NewCreated(u))

	ctx.JSON(http.StatusCreated, u)
}

// GET /users/:id
func (h *UsersHandler) GetUser(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", nil)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	u, err := h.repo.GetByID(cctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}
		RespondInternal(ctx, "Could not fetch user")
		return
	}

	ctx.JSON(http.StatusOK, u)
}

// PUT /users/:id
func (h *UsersHandler) UpdateUser(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", nil)
		return
	}

	var req UpdateUserRequest

	if !BindJSON(ctx, &req) {
		return
	}

	dob, ok := parseDOB(ctx, req.DateOfBirth)
	if !ok {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	existing, err := h.repo.GetByID(cctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}
		RespondInternal(ctx, "Could not fetch user")
		return
	}

	updated := existing
	updated.FirstName = req.FirstName
	updated.LastName = req.LastName
	updated.DateOfBirth = dob
	updated.Timezone = req.Timezone
	updated.WebhookURL = req.WebhookURL
	updated.UpdatedAt = time.Now().UTC()

	if err := h.repo.Update(cctx, updated); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}
		RespondInternal(ctx, "Could not update user")
		return
	}

	// publish only for changes the scheduling core cares about; a renamed
	// user keeps their pending occurrences as-is
	pubCtx := ctx.Request.Context()

	if existing.DateOfBirth != updated.DateOfBirth {
		h.bus.Publish(pubCtx, user.EventBirthdayChanged, user.NewBirthdayChanged(id, updated.DateOfBirth))
	}
	if existing.Timezone != updated.Timezone {
		h.bus.Publish(pubCtx, user.EventTimezoneChanged, user.NewTimezoneChanged(id, updated.Timezone))
	}

	ctx.JSON(http.StatusOK, updated)
}

// DELETE /users/:id
func (h *UsersHandler) DeleteUser(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", nil)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	if err := h.repo.Delete(cctx, id); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}
		RespondInternal(ctx, "Could not delete user")
		return
	}

	h.bus.Publish(ctx.Request.Context(), user.EventDeleted, user.NewDeleted(id))

	ctx.Status(http.StatusNoContent)
}

func parseDOB(ctx *gin.Context, raw string) (user.Date, bool) {
	dob, err := user.ParseDate(raw)
	if err != nil {
		RespondBadRequest(ctx, "dateOfBirth is not a valid date", nil)
		return user.Date{}, false
	}

	now := time.Now().UTC()
	if time.Date(dob.Year, dob.Month, dob.Day, 0, 0, 0, 0, time.UTC).After(now) {
		RespondBadRequest(ctx, "dateOfBirth must not be in the future", nil)
		return user.Date{}, false
	}

	return dob, true
}
