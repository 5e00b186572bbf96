package errorhandler

import (
	"context"
	"net/http"

	"github.com/p2pdesk/p2pdesk-api/internal/pkg/logger"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/response"
)

// HandleError logs the failure with the request logger and writes an error envelope.
// Server-side failures keep their cause in the log only.
func HandleError(ctx context.Context, w http.ResponseWriter, status int, code, message string, err error) {
	event := logger.FromContext(ctx).Error()
	if status < http.StatusInternalServerError {
		event = logger.FromContext(ctx).Warn()
	}

	event.
		Str("error_code", code).
		Str("error_message", message).
		Int("status_code", status).
		Err(err).
		Msg("Request error")

	response.Error(w, status, code, message)
}

// LogCollaboratorError records a failed call to an external collaborator
// (dispatcher, identity lookup) whose failure is deliberately not surfaced.
func LogCollaboratorError(ctx context.Context, collaborator, call string, err error) {
	logger.FromContext(ctx).Warn().
		Str("collaborator", collaborator).
		Str("call", call).
		Err(err).
		Msg("Collaborator call failed")
}
