package careapi

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/erpath/internal/severity"
)

func (a *API) handleRankFacilities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := sessionID(r)
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("erpath.session.id", id))

	ranking, err := a.svc.RankFacilities(ctx, id)
	if err != nil {
		a.writeError(ctx, w, err, "failed to rank facilities", "id", id)
		return
	}

	span.SetAttributes(
		attribute.String("erpath.triage.level", ranking.Level.String()),
		attribute.Int("erpath.facility.count", len(ranking.Facilities)),
	)
	writeJSON(w, http.StatusOK, ranking)
}

func (a *API) handleRankCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw := r.URL.Query().Get("level")
	if raw == "" {
		a.writeError(ctx, w, fmt.Errorf("%w: level query parameter is required", errBadRequest), "missing level")
		return
	}
	level, err := severity.Parse(raw)
	if err != nil {
		a.writeError(ctx, w, err, "invalid level")
		return
	}

	ranking, err := a.svc.RankCatalog(ctx, level)
	if err != nil {
		a.writeError(ctx, w, err, "failed to rank catalog", "level", raw)
		return
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("erpath.triage.level", level.String()),
		attribute.Int("erpath.facility.count", len(ranking.Facilities)),
	)
	writeJSON(w, http.StatusOK, ranking)
}
