package user

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/p2pdesk/p2pdesk-api/internal/middleware"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/errorhandler"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/response"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/validator"
)

// Handler handles user HTTP requests.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterMe handles PUT /users/me
func (h *Handler) RegisterMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == 0 {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	var req RegisterRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	u, err := h.service.Register(r.Context(), userID, req.Username, req.DisplayName)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "USER_REGISTER_FAILED", "Failed to register user", err)
		return
	}
	response.OK(w, u.ToResponse())
}

// Routes returns user routes.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Put("/me", h.RegisterMe)
	return r
}
