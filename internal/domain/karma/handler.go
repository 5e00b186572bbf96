package karma

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/p2pdesk/p2pdesk-api/internal/domain/reputation"
	"github.com/p2pdesk/p2pdesk-api/internal/middleware"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/errorhandler"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/response"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/validator"
)

const defaultReceivedWindow = 7 * 24 * time.Hour

// Handler handles karma HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates karma handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// GetScore handles GET /karma/{scope}/users/{id}
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	scopeID, ok := parseScope(w, r)
	if !ok {
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid user ID")
		return
	}

	rec, err := h.service.GetScore(r.Context(), userID, scopeID)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "KARMA_LOOKUP_FAILED", "Failed to load karma", err)
		return
	}
	if rec == nil {
		// no record yet: report a zero score rather than 404
		rec = &Record{UserID: userID, ScopeID: scopeID}
	}
	response.OK(w, rec.ToResponse())
}

// Lookup handles GET /karma/lookup?q=
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	agg, err := h.service.GetAggregateScore(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		switch {
		case errors.Is(err, ErrUserNotFound):
			response.NotFound(w, "User not found")
		case errors.Is(err, ErrInvalidQuery):
			response.BadRequest(w, "Query is required")
		default:
			errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "KARMA_LOOKUP_FAILED", "Failed to load karma", err)
		}
		return
	}
	response.OK(w, agg.ToResponse())
}

// Leaderboard handles GET /karma/{scope}/leaderboard?worst=&limit=
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	scopeID, ok := parseScope(w, r)
	if !ok {
		return
	}
	worst, _ := strconv.ParseBool(r.URL.Query().Get("worst"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.service.GetLeaderboard(r.Context(), scopeID, worst, limit)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "LEADERBOARD_FAILED", "Failed to load leaderboard", err)
		return
	}
	response.WithMeta(w, rankResponse(entries), response.Meta{Total: len(entries), Limit: clampLimit(limit)})
}

// TopGivers handles GET /karma/{scope}/givers
func (h *Handler) TopGivers(w http.ResponseWriter, r *http.Request) {
	scopeID, ok := parseScope(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.service.GetTopGivers(r.Context(), scopeID, limit)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "LEADERBOARD_FAILED", "Failed to load givers", err)
		return
	}
	response.WithMeta(w, entries, response.Meta{Total: len(entries), Limit: clampLimit(limit)})
}

// TopReceived handles GET /karma/{scope}/top-received?since=168h
func (h *Handler) TopReceived(w http.ResponseWriter, r *http.Request) {
	scopeID, ok := parseScope(w, r)
	if !ok {
		return
	}
	window := defaultReceivedWindow
	if s := r.URL.Query().Get("since"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			response.BadRequest(w, "Invalid since duration")
			return
		}
		window = d
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.service.GetTopReceivedSince(r.Context(), scopeID, window, limit)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "LEADERBOARD_FAILED", "Failed to load ranking", err)
		return
	}
	response.WithMeta(w, entries, response.Meta{Total: len(entries), Limit: clampLimit(limit)})
}

// React handles POST /karma/{scope}/reactions
func (h *Handler) React(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == 0 {
		response.Unauthorized(w, "Unauthorized")
		return
	}
	scopeID, ok := parseScope(w, r)
	if !ok {
		return
	}

	var req ReactionRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	rec, err := h.service.React(r.Context(), userID, req.TargetID, scopeID, req.Positive, strings.TrimSpace(req.Comment))
	if err != nil {
		switch {
		case errors.Is(err, ErrSelfEvaluation):
			response.Forbidden(w, "You cannot vote for yourself")
		case errors.Is(err, ErrCooldown):
			response.TooManyRequests(w)
		case errors.Is(err, ErrInvalidUser):
			response.BadRequest(w, "Invalid target")
		default:
			errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "REACTION_FAILED", "Failed to record reaction", err)
		}
		return
	}
	response.Created(w, rec.ToResponse())
}

type rankRow struct {
	RankEntry
	Level reputation.Level `json:"level"`
}

func rankResponse(entries []RankEntry) []rankRow {
	rows := make([]rankRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, rankRow{RankEntry: e, Level: reputation.Classify(e.Value)})
	}
	return rows
}

func parseScope(w http.ResponseWriter, r *http.Request) (int64, bool) {
	scopeID, err := strconv.ParseInt(chi.URLParam(r, "scope"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid scope ID")
		return 0, false
	}
	return scopeID, true
}

// Routes returns karma routes
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/lookup", h.Lookup)
	r.Route("/{scope}", func(r chi.Router) {
		r.Get("/users/{id}", h.GetScore)
		r.Get("/leaderboard", h.Leaderboard)
		r.Get("/givers", h.TopGivers)
		r.Get("/top-received", h.TopReceived)

		r.With(authMiddleware).Post("/reactions", h.React)
	})

	return r
}
