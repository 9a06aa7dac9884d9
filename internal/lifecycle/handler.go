package lifecycle

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian/internal/platform/httpx"
	"github.com/meridian-erp/meridian/internal/shared"
)

// Handler exposes policy checks and side-effect previews.
type Handler struct {
	logger   *slog.Logger
	registry *Registry
	validate *validator.Validate
}

// NewHandler builds the lifecycle handler.
func NewHandler(logger *slog.Logger, registry *Registry) *Handler {
	return &Handler{logger: logger, registry: registry, validate: validator.New()}
}

// MountRoutes registers lifecycle routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{docType}/actions", h.sideEffects)
	r.Post("/{docType}/check", h.check)
}

type sideEffectsResponse struct {
	DocumentType DocumentType `json:"documentType"`
	Post         SideEffects  `json:"post"`
	Reverse      SideEffects  `json:"reverse"`
}

func (h *Handler) sideEffects(w http.ResponseWriter, r *http.Request) {
	policy, err := h.registry.Get(DocumentType(chi.URLParam(r, "docType")))
	if err != nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, sideEffectsResponse{
		DocumentType: policy.DocumentType(),
		Post:         policy.PostSideEffects(),
		Reverse:      policy.ReverseSideEffects(),
	})
}

type checkRequest struct {
	Action string `json:"action" validate:"required,oneof=create view edit delete approve post reverse"`
	State  struct {
		Status      string `json:"status"`
		IsPosted    bool   `json:"isPosted"`
		IsApproved  bool   `json:"isApproved"`
		IsReversed  bool   `json:"isReversed"`
		IsCancelled bool   `json:"isCancelled"`
		IsLocked    bool   `json:"isLocked"`
	} `json:"state"`
}

type checkResponse struct {
	Decision
	NextStatus string `json:"nextStatus,omitempty"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	policy, err := h.registry.Get(DocumentType(chi.URLParam(r, "docType")))
	if err != nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondValidation(w, err)
		return
	}
	state := DocumentState{
		Status:      req.State.Status,
		IsPosted:    req.State.IsPosted,
		IsApproved:  req.State.IsApproved,
		IsReversed:  req.State.IsReversed,
		IsCancelled: req.State.IsCancelled,
		IsLocked:    req.State.IsLocked,
	}
	decision, err := h.decide(policy, Action(req.Action), state, actor.Permissions)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	resp := checkResponse{Decision: decision}
	if decision.Allowed {
		if next, ok := policy.NextStatus(state.Status, Action(req.Action)); ok {
			resp.NextStatus = next
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) decide(policy Policy, action Action, state DocumentState, perms shared.PermissionSet) (Decision, error) {
	switch action {
	case ActionCreate:
		return policy.CanCreate(perms), nil
	case ActionView:
		return policy.CanView(perms), nil
	case ActionEdit:
		return policy.CanEdit(state, perms), nil
	case ActionDelete:
		return policy.CanDelete(state, perms), nil
	case ActionApprove:
		return policy.CanApprove(state, perms), nil
	case ActionPost:
		return policy.CanPost(state, perms), nil
	case ActionReverse:
		return policy.CanReverse(state, perms), nil
	default:
		return Decision{}, errors.New("lifecycle: unsupported action")
	}
}
