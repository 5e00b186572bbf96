package evaluation

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/p2pdesk/p2pdesk-api/internal/domain/karma"
	"github.com/p2pdesk/p2pdesk-api/internal/middleware"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/errorhandler"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/response"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/validator"
)

// Handler handles evaluation HTTP requests
type Handler struct {
	gate  *Gate
	rater *Rater
}

// NewHandler creates evaluation handler
func NewHandler(gate *Gate, rater *Rater) *Handler {
	return &Handler{gate: gate, rater: rater}
}

// Pending handles GET /evaluations/pending
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == 0 {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	rows, err := h.gate.ListOutstanding(r.Context(), userID)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "PENDING_EVALUATIONS_FAILED", "Failed to load pending evaluations", err)
		return
	}

	items := make([]PendingEvaluationResponse, 0, len(rows))
	for i := range rows {
		items = append(items, rows[i].ToResponse())
	}
	response.WithMeta(w, items, response.Meta{Total: len(items)})
}

// Rate handles POST /operations/{id}/rating
func (h *Handler) Rate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == 0 {
		response.Unauthorized(w, "Unauthorized")
		return
	}
	operationID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid operation ID")
		return
	}

	var req RateRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	rec, err := h.rater.Rate(r.Context(), operationID, userID, req.Stars, req.Comment)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			response.NotFound(w, "Nothing to rate for this operation")
		case errors.Is(err, ErrAlreadyResolved):
			response.Conflict(w, "ALREADY_RATED", "Operation already rated")
		case errors.Is(err, karma.ErrInvalidRating):
			response.BadRequest(w, "Stars must be between 1 and 5")
		default:
			errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "RATING_FAILED", "Failed to record rating", err)
		}
		return
	}
	response.Created(w, rec.ToResponse())
}

// Routes returns evaluation routes
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/pending", h.Pending)
	return r
}

// RatingRoutes is mounted under /operations/{id}/rating
func (h *Handler) RatingRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/", h.Rate)
	return r
}
