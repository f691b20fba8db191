package careapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/erpath/internal/care"
	"github.com/linnemanlabs/erpath/internal/triage"
)

// sessionView is the wire form of a session. Critical and NextAction are
// derived from the decision and never stored.
type sessionView struct {
	*care.Session
	Critical   bool              `json:"critical"`
	NextAction triage.NextAction `json:"next_action"`
}

func viewOf(s *care.Session) sessionView {
	return sessionView{Session: s, Critical: s.Critical(), NextAction: s.NextAction()}
}

func readAssessment(r *http.Request) (triage.Assessment, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return triage.Assessment{}, fmt.Errorf("read body: %w", err)
	}
	return triage.ParseAssessment(body)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid payload: %v", errBadRequest, err)
	}
	return nil
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	assessment, err := readAssessment(r)
	if err != nil {
		a.writeError(ctx, w, err, "failed to read assessment")
		return
	}

	res, err := a.svc.Submit(ctx, assessment)
	if err != nil {
		a.writeError(ctx, w, err, "failed to submit assessment")
		return
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("erpath.session.id", res.ID),
		attribute.String("erpath.triage.rule_level", res.RuleLevel.String()),
	)
	writeJSON(w, http.StatusAccepted, res)
}

func (a *API) handleResubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := sessionID(r)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("erpath.session.id", id))

	assessment, err := readAssessment(r)
	if err != nil {
		a.writeError(ctx, w, err, "failed to read assessment", "id", id)
		return
	}

	res, err := a.svc.Resubmit(ctx, id, assessment)
	if err != nil {
		a.writeError(ctx, w, err, "failed to resubmit assessment", "id", id)
		return
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("erpath.session.generation", int64(res.Generation))) //nolint:gosec // small counter
	writeJSON(w, http.StatusAccepted, res)
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := sessionID(r)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("erpath.session.id", id))

	sess, ok, err := a.svc.Get(ctx, id)
	if err != nil {
		a.writeError(ctx, w, err, "failed to get session", "id", id)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		return
	}

	span.SetAttributes(attribute.String("erpath.session.next_action", string(sess.NextAction())))
	writeJSON(w, http.StatusOK, viewOf(sess))
}

type selectFacilityRequest struct {
	FacilityID string `json:"facility_id"`
}

func (a *API) handleSelectFacility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := sessionID(r)

	var req selectFacilityRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(ctx, w, err, "failed to decode facility selection", "id", id)
		return
	}
	req.FacilityID = strings.TrimSpace(req.FacilityID)
	if req.FacilityID == "" {
		a.writeError(ctx, w, fmt.Errorf("%w: facility_id is required", errBadRequest), "missing facility id")
		return
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("erpath.session.id", id),
		attribute.String("erpath.facility.id", req.FacilityID),
	)

	sess, err := a.svc.SelectFacility(ctx, id, req.FacilityID)
	if err != nil {
		a.writeError(ctx, w, err, "failed to select facility", "id", id, "facility_id", req.FacilityID)
		return
	}
	writeJSON(w, http.StatusAccepted, viewOf(sess))
}
