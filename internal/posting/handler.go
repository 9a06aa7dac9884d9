package posting

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian/internal/documents"
	"github.com/meridian-erp/meridian/internal/lifecycle"
	"github.com/meridian-erp/meridian/internal/matching"
	"github.com/meridian-erp/meridian/internal/platform/httpx"
	"github.com/meridian-erp/meridian/internal/shared"
)

// StatePort reads the lifecycle flags of a source document.
type StatePort interface {
	GetState(ctx context.Context, entityType documents.EntityType, entityID, companyID int64) (documents.State, error)
}

// Handler exposes posting runs, pending confirmations and marker
// listings. It owns the orchestration order: lifecycle gate, then
// matching gate, then the engine.
type Handler struct {
	logger   *slog.Logger
	engine   *Engine
	policies *lifecycle.Registry
	matching *matching.Service
	states   StatePort
	validate *validator.Validate
}

// NewHandler builds the posting handler.
func NewHandler(logger *slog.Logger, engine *Engine, policies *lifecycle.Registry, matchingSvc *matching.Service, states StatePort) *Handler {
	return &Handler{
		logger:   logger,
		engine:   engine,
		policies: policies,
		matching: matchingSvc,
		states:   states,
		validate: validator.New(),
	}
}

// MountRoutes registers posting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/run", h.run)
	r.Post("/confirm", h.confirm)
	r.Get("/markers", h.listMarkers)
	r.Get("/markers/{id}", h.getMarker)
}

type runRequest struct {
	Event      string `json:"event" validate:"required"`
	EntityType string `json:"entityType" validate:"required"`
	EntityID   int64  `json:"entityId" validate:"required,gt=0"`
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req runRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondValidation(w, err)
		return
	}

	if blocked := h.gate(w, r, actor, req); blocked {
		return
	}

	result, err := h.engine.Run(r.Context(), RunInput{
		Event:      req.Event,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		CompanyID:  actor.CompanyID,
		UserID:     actor.UserID,
	})
	if err != nil {
		h.logger.Error("posting run failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// gate applies the lifecycle and matching checks before the engine may
// run. It writes the refusal response itself and reports whether the
// request was blocked.
func (h *Handler) gate(w http.ResponseWriter, r *http.Request, actor *shared.Actor, req runRequest) bool {
	docType := lifecycle.DocumentType(req.EntityType)
	policy, policyErr := h.policies.Get(docType)
	if policyErr != nil {
		// Entity types outside the lifecycle registry still need an
		// explicit grant; being authenticated in the company is not
		// enough to trigger a posting run.
		if !actor.Permissions.Has("posting.run") {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing permission posting.run")
			return true
		}
	} else {
		state, err := h.states.GetState(r.Context(), documents.EntityType(req.EntityType), req.EntityID, actor.CompanyID)
		if err != nil {
			if errors.Is(err, documents.ErrNotFound) {
				httpx.Problem(w, http.StatusNotFound, "Not Found", "source document not found")
				return true
			}
			h.logger.Error("load document state", slog.Any("error", err))
			httpx.RespondError(w, err)
			return true
		}
		decision := policy.CanPost(lifecycle.DocumentState{
			Status:      state.Status,
			IsPosted:    state.IsPosted,
			IsApproved:  state.IsApproved,
			IsReversed:  state.IsReversed,
			IsCancelled: state.IsCancelled,
			IsLocked:    state.IsLocked,
		}, actor.Permissions)
		if !decision.Allowed {
			httpx.JSON(w, http.StatusConflict, map[string]any{
				"status":   string(StatusSkipped),
				"reason":   decision.Reason,
				"decision": decision,
			})
			return true
		}
	}

	if req.EntityType == string(documents.EntityPurchaseInvoice) && h.matching != nil {
		allowed, result, err := h.matching.GateForPosting(r.Context(), req.EntityID, actor.CompanyID)
		if err != nil {
			if errors.Is(err, matching.ErrInvoiceNotFound) {
				httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
				return true
			}
			h.logger.Error("matching gate failed", slog.Any("error", err))
			httpx.RespondError(w, err)
			return true
		}
		if !allowed {
			httpx.JSON(w, http.StatusConflict, map[string]any{
				"status":         string(StatusSkipped),
				"reason":         "matching variance requires approval or override",
				"matchingResult": result,
			})
			return true
		}
	}
	return false
}

type confirmRequest struct {
	MarkerID int64 `json:"markerId" validate:"required,gt=0"`
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	if !actor.Permissions.Has("posting.confirm") {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing permission posting.confirm")
		return
	}
	var req confirmRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondValidation(w, err)
		return
	}

	// Tenant check before the transactional confirm.
	marker, err := h.engine.GetMarker(r.Context(), req.MarkerID)
	if err != nil {
		if errors.Is(err, ErrMarkerNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		httpx.RespondError(w, err)
		return
	}
	if marker.CompanyID != actor.CompanyID {
		httpx.Problem(w, http.StatusNotFound, "Not Found", ErrMarkerNotFound.Error())
		return
	}

	result, err := h.engine.ConfirmPendingPosting(r.Context(), req.MarkerID, actor.UserID)
	if err != nil {
		h.logger.Error("posting confirm failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) listMarkers(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	entityType := r.URL.Query().Get("entityType")
	var entityID int64
	if raw := r.URL.Query().Get("entityId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid entityId")
			return
		}
		entityID = id
	}
	markers, err := h.engine.ListMarkers(r.Context(), actor.CompanyID, entityType, entityID)
	if err != nil {
		h.logger.Error("list markers", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"markers": markerViews(markers)})
}

func (h *Handler) getMarker(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	markerID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid marker id")
		return
	}
	marker, err := h.engine.GetMarker(r.Context(), markerID)
	if err != nil {
		if errors.Is(err, ErrMarkerNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		httpx.RespondError(w, err)
		return
	}
	if marker.CompanyID != actor.CompanyID {
		httpx.Problem(w, http.StatusNotFound, "Not Found", ErrMarkerNotFound.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, markerView(marker))
}

type markerResponse struct {
	ID             int64        `json:"id"`
	EntityType     string       `json:"entityType"`
	EntityID       int64        `json:"entityId"`
	TriggerCode    string       `json:"triggerCode"`
	Status         MarkerStatus `json:"status"`
	RuleID         *int64       `json:"ruleId,omitempty"`
	JournalEntryID *int64       `json:"journalEntryId,omitempty"`
	ErrorMessage   string       `json:"errorMessage,omitempty"`
	Preview        *PreviewData `json:"previewData,omitempty"`
	CreatedAt      string       `json:"createdAt"`
	PostedAt       *string      `json:"postedAt,omitempty"`
}

func markerView(m Marker) markerResponse {
	view := markerResponse{
		ID:             m.ID,
		EntityType:     m.EntityType,
		EntityID:       m.EntityID,
		TriggerCode:    m.TriggerCode,
		Status:         m.Status,
		RuleID:         m.RuleID,
		JournalEntryID: m.JournalEntryID,
		ErrorMessage:   m.ErrorMessage,
		Preview:        m.Preview,
		CreatedAt:      m.CreatedAt.Format(time.RFC3339),
	}
	if m.PostedAt != nil {
		s := m.PostedAt.Format(time.RFC3339)
		view.PostedAt = &s
	}
	return view
}

func markerViews(markers []Marker) []markerResponse {
	views := make([]markerResponse, 0, len(markers))
	for _, m := range markers {
		views = append(views, markerView(m))
	}
	return views
}
