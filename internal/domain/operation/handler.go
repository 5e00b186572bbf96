package operation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/p2pdesk/p2pdesk-api/internal/middleware"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/errorhandler"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/logger"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/response"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/validator"
)

// Handler handles operation HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates operation handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Create handles POST /operations
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == 0 {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	var req CreateRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}
	in, err := req.ToInput(userID)
	if err != nil {
		response.BadRequest(w, "Invalid ttl")
		return
	}

	op, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	response.Created(w, op.ToResponse())
}

// Get handles GET /operations/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	op, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.mapError(w, r, err)
		return
	}

	resp := op.ToResponse()
	order, err := h.service.TransferOrder(r.Context(), op)
	if err != nil {
		// display only: serve the operation without it
		logger.FromContext(r.Context()).Warn().Err(err).Str("operation_id", id.String()).Msg("Failed to compute transfer order")
	}
	resp.TransferOrder = order
	response.OK(w, resp)
}

// ListMine handles GET /operations/mine
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	ops, err := h.service.ListByCreator(r.Context(), userID, limit)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	response.WithMeta(w, toResponses(ops), response.Meta{Total: len(ops), Limit: listLimit(limit)})
}

// ListAccepted handles GET /operations/accepted
func (h *Handler) ListAccepted(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	ops, err := h.service.ListByAcceptor(r.Context(), userID, limit)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	response.WithMeta(w, toResponses(ops), response.Meta{Total: len(ops), Limit: listLimit(limit)})
}

// ListScope handles GET /scopes/{scope}/operations
func (h *Handler) ListScope(w http.ResponseWriter, r *http.Request) {
	scopeID, err := strconv.ParseInt(chi.URLParam(r, "scope"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid scope ID")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	ops, err := h.service.ListOpenInScope(r.Context(), scopeID, limit)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	response.WithMeta(w, toResponses(ops), response.Meta{Total: len(ops), Limit: listLimit(limit)})
}

// Publish handles POST /operations/{id}/publish
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req PublishRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	op, err := h.service.Publish(r.Context(), id, middleware.GetUserID(r.Context()), req.ScopeID)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	response.OK(w, op.ToResponse())
}

// transition builds the handler of a body-less POST /operations/{id}/<action>
func (h *Handler) transition(action func(r *http.Request, id uuid.UUID, userID int64) (*Operation, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}

		op, err := action(r, id, middleware.GetUserID(r.Context()))
		if err != nil {
			h.mapError(w, r, err)
			return
		}
		response.OK(w, op.ToResponse())
	}
}

func (h *Handler) mapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrNotFound):
		response.NotFound(w, "Operation not found")
	case errors.Is(err, ErrEvaluationsPending):
		response.Error(w, http.StatusForbidden, "EVALUATIONS_PENDING", "Rate your previous trades first")
	case errors.Is(err, ErrSelfAcceptForbidden):
		response.Error(w, http.StatusForbidden, "SELF_ACCEPT_FORBIDDEN", "You cannot accept your own operation")
	case errors.Is(err, ErrNotParticipant):
		response.Error(w, http.StatusForbidden, "NOT_PARTICIPANT", "You are not a participant of this operation")
	case errors.Is(err, ErrForbidden):
		response.Forbidden(w, "Action not allowed")
	case errors.Is(err, ErrExpired):
		response.Gone(w, "Operation has expired")
	case errors.Is(err, ErrAlreadyRated):
		response.Conflict(w, "ALREADY_RATED", "A rated trade cannot be reverted")
	case errors.Is(err, ErrNotAvailable):
		response.Conflict(w, "NOT_AVAILABLE", "Operation is no longer available")
	case errors.Is(err, ErrWrongState):
		response.Conflict(w, "WRONG_STATE", "Operation status does not allow this action")
	default:
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "OPERATION_FAILED", "Failed to process operation", err)
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid operation ID")
		return uuid.Nil, false
	}
	return id, true
}
