package careapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/erpath/internal/care"
	"github.com/linnemanlabs/erpath/internal/pathway"
	"github.com/linnemanlabs/erpath/internal/severity"
	"github.com/linnemanlabs/erpath/internal/triage"
)

var errBadRequest = errors.New("bad request")

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest),
		errors.Is(err, triage.ErrInvalidAssessment),
		errors.Is(err, severity.ErrInvalidLevel),
		errors.Is(err, pathway.ErrStepOutOfRange),
		errors.Is(err, pathway.ErrInvalidEdit):
		return http.StatusBadRequest
	case errors.Is(err, care.ErrNotFound),
		errors.Is(err, care.ErrFacilityNotFound):
		return http.StatusNotFound
	case errors.Is(err, care.ErrClassificationPending),
		errors.Is(err, care.ErrEmergencyRoute),
		errors.Is(err, care.ErrNoPathway),
		errors.Is(err, pathway.ErrNotAtLastStep):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err onto a status and a JSON error body. Server errors are
// logged and their detail is not returned.
func (a *API) writeError(ctx context.Context, w http.ResponseWriter, err error, msg string, kv ...any) {
	status := statusFor(err)
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.Int("erpath.error.status", status))

	if status == http.StatusInternalServerError {
		a.logger.Error(ctx, err, msg, kv...)
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}
