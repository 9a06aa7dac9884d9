package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-erp/meridian/internal/platform/httpx"
	"github.com/meridian-erp/meridian/internal/shared"
)

// previewTTL bounds how stale a cached match preview may be. A preview
// is advisory; the posting gate always validates fresh.
const previewTTL = 30 * time.Second

// Handler exposes match previews and variance overrides.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	cache    *redis.Client
	validate *validator.Validate
	group    singleflight.Group
}

// NewHandler builds the matching handler. cache may be nil, previews
// are then computed on every call.
func NewHandler(logger *slog.Logger, service *Service, cache *redis.Client) *Handler {
	return &Handler{logger: logger, service: service, cache: cache, validate: validator.New()}
}

// MountRoutes registers matching routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/invoices/{id}", h.preview)
	r.Post("/invoices/{id}/override", h.override)
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	invoiceID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	key := fmt.Sprintf("matching:preview:%d:%d", actor.CompanyID, invoiceID)
	if cached, ok := h.cachedResult(r.Context(), key); ok {
		httpx.JSON(w, http.StatusOK, cached)
		return
	}
	// Collapse concurrent previews for the same invoice into one
	// validation pass.
	value, err, _ := h.group.Do(key, func() (any, error) {
		result, err := h.service.Validate(r.Context(), invoiceID, actor.CompanyID)
		if err != nil {
			return nil, err
		}
		h.storeResult(r.Context(), key, result)
		return result, nil
	})
	if err != nil {
		if errors.Is(err, ErrInvoiceNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("matching preview failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, value)
}

type overrideRequest struct {
	Reason string `json:"reason" validate:"required,min=5"`
}

func (h *Handler) override(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	if !actor.Permissions.Has("purchase.invoice.override_variance") {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	invoiceID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	var req overrideRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondValidation(w, err)
		return
	}
	if err := h.service.RecordOverride(r.Context(), invoiceID, actor.CompanyID, actor.UserID, req.Reason); err != nil {
		if errors.Is(err, ErrInvoiceNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"overridden": true})
}

func (h *Handler) cachedResult(ctx context.Context, key string) (Result, bool) {
	if h.cache == nil {
		return Result{}, false
	}
	raw, err := h.cache.Get(ctx, key).Bytes()
	if err != nil {
		return Result{}, false
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, false
	}
	return result, true
}

func (h *Handler) storeResult(ctx context.Context, key string, result Result) {
	if h.cache == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := h.cache.Set(ctx, key, raw, previewTTL).Err(); err != nil {
		h.logger.Warn("matching preview cache write failed", slog.Any("error", err))
	}
}
