package careapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/erpath/internal/care"
	"github.com/linnemanlabs/erpath/internal/pathway"
)

type pathwayView struct {
	SessionID string             `json:"session_id"`
	Pending   bool               `json:"pending"`
	Source    care.PathwaySource `json:"source,omitempty"`
	Complete  *bool              `json:"complete,omitempty"`
	Pathway   *pathway.Pathway   `json:"pathway"`
}

func pathwayOf(s *care.Session) pathwayView {
	return pathwayView{
		SessionID: s.ID,
		Pending:   s.PathwayPending,
		Source:    s.PathwaySource,
		Pathway:   s.Pathway,
	}
}

func stepIndex(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "index")
	i, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: step index %q is not an integer", errBadRequest, raw)
	}
	return i, nil
}

func (a *API) handleGetPathway(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := sessionID(r)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("erpath.session.id", id))

	sess, ok, err := a.svc.Get(ctx, id)
	if err != nil {
		a.writeError(ctx, w, err, "failed to get session", "id", id)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		return
	}
	if sess.Pathway == nil && !sess.PathwayPending {
		a.writeError(ctx, w, care.ErrNoPathway, "no pathway", "id", id)
		return
	}
	writeJSON(w, http.StatusOK, pathwayOf(sess))
}

func (a *API) handleAdvance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := sessionID(r)
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("erpath.session.id", id))

	sess, complete, err := a.svc.Advance(ctx, id)
	if err != nil {
		a.writeError(ctx, w, err, "failed to advance pathway", "id", id)
		return
	}

	span.SetAttributes(
		attribute.Int("erpath.pathway.current_step", sess.Pathway.CurrentIndex()),
		attribute.Bool("erpath.pathway.complete", complete),
	)
	v := pathwayOf(sess)
	v.Complete = &complete
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleFinish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := sessionID(r)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("erpath.session.id", id))

	sess, err := a.svc.Finish(ctx, id)
	if err != nil {
		a.writeError(ctx, w, err, "failed to finish pathway", "id", id)
		return
	}
	writeJSON(w, http.StatusOK, pathwayOf(sess))
}

func (a *API) handleSelectStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := sessionID(r)

	i, err := stepIndex(r)
	if err != nil {
		a.writeError(ctx, w, err, "invalid step index", "id", id)
		return
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("erpath.session.id", id),
		attribute.Int("erpath.pathway.step", i),
	)

	sess, err := a.svc.SelectStep(ctx, id, i)
	if err != nil {
		a.writeError(ctx, w, err, "failed to select step", "id", id, "step", i)
		return
	}
	writeJSON(w, http.StatusOK, pathwayOf(sess))
}

func (a *API) handleEditStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := sessionID(r)

	i, err := stepIndex(r)
	if err != nil {
		a.writeError(ctx, w, err, "invalid step index", "id", id)
		return
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("erpath.session.id", id),
		attribute.Int("erpath.pathway.step", i),
	)

	var edit pathway.StepEdit
	if err := decodeBody(r, &edit); err != nil {
		a.writeError(ctx, w, err, "failed to decode step edit", "id", id)
		return
	}

	sess, err := a.svc.EditStep(ctx, id, i, edit)
	if err != nil {
		a.writeError(ctx, w, err, "failed to edit step", "id", id, "step", i)
		return
	}
	writeJSON(w, http.StatusOK, pathwayOf(sess))
}
