// Package careapi is the HTTP transport for care sessions.
package careapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/erpath/internal/authmw"
	"github.com/linnemanlabs/erpath/internal/care"
	"github.com/linnemanlabs/erpath/internal/pathway"
	"github.com/linnemanlabs/erpath/internal/severity"
	"github.com/linnemanlabs/erpath/internal/triage"
)

// CareService defines the business operations careapi needs.
type CareService interface {
	Submit(ctx context.Context, a triage.Assessment) (*care.SubmitResult, error)
	Resubmit(ctx context.Context, id string, a triage.Assessment) (*care.SubmitResult, error)
	Get(ctx context.Context, id string) (*care.Session, bool, error)
	RankFacilities(ctx context.Context, id string) (*care.Ranking, error)
	RankCatalog(ctx context.Context, level severity.Level) (*care.Ranking, error)
	SelectFacility(ctx context.Context, id, facilityID string) (*care.Session, error)
	SelectStep(ctx context.Context, id string, i int) (*care.Session, error)
	Advance(ctx context.Context, id string) (*care.Session, bool, error)
	Finish(ctx context.Context, id string) (*care.Session, error)
	EditStep(ctx context.Context, id string, i int, e pathway.StepEdit) (*care.Session, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    CareService
	token  string
}

// New creates a new API handler. A non-empty token requires bearer auth on
// every route.
func New(logger log.Logger, svc CareService, token string) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("care service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		token:  token,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authmw.Optional(a.token))

		r.Post("/assessments", a.handleSubmit)
		r.Get("/facilities", a.handleRankCatalog)

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", a.handleGetSession)
			r.Put("/assessment", a.handleResubmit)
			r.Get("/facilities", a.handleRankFacilities)
			r.Post("/facility", a.handleSelectFacility)

			r.Route("/pathway", func(r chi.Router) {
				r.Get("/", a.handleGetPathway)
				r.Post("/advance", a.handleAdvance)
				r.Post("/finish", a.handleFinish)
				r.Post("/steps/{index}/select", a.handleSelectStep)
				r.Patch("/steps/{index}", a.handleEditStep)
			})
		})
	})
}

func sessionID(r *http.Request) string {
	return chi.URLParam(r, "id")
}
