package care

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/erpath/internal/facility"
	"github.com/linnemanlabs/erpath/internal/pathway"
	"github.com/linnemanlabs/erpath/internal/severity"
	"github.com/linnemanlabs/erpath/internal/triage"
)

var (
	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("session not found")

	// ErrClassificationPending is returned when an operation needs a decision
	// that has not been made yet.
	ErrClassificationPending = errors.New("classification pending")

	// ErrEmergencyRoute is returned when a critical session asks for facility
	// recommendations. Critical sessions are routed to emergency services.
	ErrEmergencyRoute = errors.New("critical assessment: contact emergency services")

	// ErrFacilityNotFound is returned when the selected facility is not in the
	// current catalog.
	ErrFacilityNotFound = errors.New("facility not found")

	// ErrNoPathway is returned for pathway operations before a pathway exists.
	ErrNoPathway = errors.New("no care pathway")
)

// Notifier is told about sessions whose decision is critical.
type Notifier interface {
	NotifyCritical(ctx context.Context, s *Session) error
}

// Deps are the collaborators of a Service. Store and Catalog are required.
// A nil Classifier means rule-only classification and a nil Generator always
// installs the default pathway.
type Deps struct {
	Store      Store
	Catalog    facility.Catalog
	Classifier triage.Classifier
	Generator  pathway.Generator
	Notifier   Notifier
	Metrics    *Metrics
	Logger     log.Logger
}

// SubmitResult is the outcome of accepting an assessment.
type SubmitResult struct {
	ID         string         `json:"id"`
	Generation uint64         `json:"generation"`
	RuleLevel  severity.Level `json:"rule_level"`
}

// Ranking is a facility ranking for one level and catalog snapshot.
type Ranking struct {
	Level      severity.Level    `json:"level"`
	Generation uint64            `json:"catalog_generation"`
	UpdatedAt  time.Time         `json:"catalog_updated_at"`
	Facilities []facility.Ranked `json:"facilities"`
}

// Service is the business boundary for care sessions.
type Service struct {
	store      Store
	catalog    facility.Catalog
	classifier triage.Classifier
	generator  pathway.Generator
	notifier   Notifier
	metrics    *Metrics
	logger     log.Logger
	clock      func() time.Time

	// mu serializes every read-modify-write of a session.
	mu sync.Mutex
	wg sync.WaitGroup
}

// NewService creates a care service.
func NewService(d Deps) *Service {
	if d.Store == nil {
		panic(xerrors.New("care.NewService: store is required"))
	}
	if d.Catalog == nil {
		panic(xerrors.New("care.NewService: catalog is required"))
	}
	if d.Logger == nil {
		d.Logger = log.Nop()
	}
	return &Service{
		store:      d.Store,
		catalog:    d.Catalog,
		classifier: d.Classifier,
		generator:  d.Generator,
		notifier:   d.Notifier,
		metrics:    d.Metrics,
		logger:     d.Logger,
		clock:      time.Now,
	}
}

// Wait blocks until in-flight classification and pathway work has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Submit creates a session for the assessment, classifies it with the rule
// engine and dispatches external classification in the background.
func (s *Service) Submit(ctx context.Context, a triage.Assessment) (*SubmitResult, error) {
	a, err := a.Clone().Normalize()
	if err != nil {
		return nil, err
	}

	now := s.clock()
	sess := &Session{
		ID:          ulid.Make().String(),
		Assessment:  a,
		RuleMatch:   triage.Evaluate(a),
		ClassifyGen: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	err = s.store.Put(ctx, sess)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	s.metrics.assessment("submit")
	s.dispatchClassify(ctx, sess.ID, sess.ClassifyGen, a, sess.RuleMatch)

	return &SubmitResult{ID: sess.ID, Generation: sess.ClassifyGen, RuleLevel: sess.RuleMatch.Level}, nil
}

// Resubmit replaces a session's assessment. Any in-flight classification or
// pathway generation for the old assessment is superseded, and the
// facility choice and pathway are cleared.
func (s *Service) Resubmit(ctx context.Context, id string, a triage.Assessment) (*SubmitResult, error) {
	a, err := a.Clone().Normalize()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	sess, err := s.load(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	sess.Assessment = a
	sess.RuleMatch = triage.Evaluate(a)
	sess.ClassifyGen++
	sess.Decision = nil
	sess.Facility = nil
	sess.Pathway = nil
	sess.PathwayGen++
	sess.PathwayPending = false
	sess.PathwaySource = ""
	sess.UpdatedAt = s.clock()
	err = s.store.Put(ctx, sess)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	s.metrics.assessment("resubmit")
	s.dispatchClassify(ctx, sess.ID, sess.ClassifyGen, a, sess.RuleMatch)

	return &SubmitResult{ID: sess.ID, Generation: sess.ClassifyGen, RuleLevel: sess.RuleMatch.Level}, nil
}

// Get retrieves a session by id.
func (s *Service) Get(ctx context.Context, id string) (*Session, bool, error) {
	return s.store.Get(ctx, id)
}

// RankFacilities ranks the current catalog for the session's effective
// level. Critical sessions are refused with ErrEmergencyRoute.
func (s *Service) RankFacilities(ctx context.Context, id string) (*Ranking, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := gate(sess); err != nil {
		s.metrics.ranking(rankResult(err))
		return nil, err
	}

	r, err := s.RankCatalog(ctx, sess.Decision.EffectiveLevel)
	if err != nil {
		return nil, err
	}
	s.metrics.ranking("ok")
	return r, nil
}

// RankCatalog ranks one consistent snapshot of the catalog for level.
func (s *Service) RankCatalog(ctx context.Context, level severity.Level) (*Ranking, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w: %d", severity.ErrInvalidLevel, int(level))
	}
	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("read facility catalog: %w", err)
	}
	return &Ranking{
		Level:      level,
		Generation: snap.Generation,
		UpdatedAt:  snap.UpdatedAt,
		Facilities: facility.Rank(snap.Facilities, level),
	}, nil
}

// SelectFacility records the chosen facility and dispatches pathway
// generation. An earlier pathway request for the session is superseded.
func (s *Service) SelectFacility(ctx context.Context, id, facilityID string) (*Session, error) {
	// the catalog read may be a network round trip, keep it outside mu
	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("read facility catalog: %w", err)
	}

	s.mu.Lock()
	sess, err := s.load(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := gate(sess); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	f, ok := snap.Lookup(facilityID)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrFacilityNotFound, facilityID)
	}

	sess.Facility = &f
	sess.PathwayGen++
	sess.Pathway = nil
	sess.PathwayPending = true
	sess.PathwaySource = ""
	sess.UpdatedAt = s.clock()
	err = s.store.Put(ctx, sess)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	s.dispatchGenerate(ctx, sess.ID, sess.PathwayGen, pathway.Request{
		Facility: f,
		Level:    sess.Decision.EffectiveLevel,
		At:       sess.UpdatedAt,
	})
	return sess, nil
}

// SelectStep moves the session's pathway to step i.
func (s *Service) SelectStep(ctx context.Context, id string, i int) (*Session, error) {
	return s.mutatePathway(ctx, id, func(p *pathway.Pathway) error {
		return p.SelectStep(i)
	})
}

// Advance moves the session's pathway forward one step. complete is true
// when the pathway was already at its last step.
func (s *Service) Advance(ctx context.Context, id string) (sess *Session, complete bool, err error) {
	sess, err = s.mutatePathway(ctx, id, func(p *pathway.Pathway) error {
		complete = p.Advance()
		return nil
	})
	return sess, complete, err
}

// Finish closes out the last step of the session's pathway.
func (s *Service) Finish(ctx context.Context, id string) (*Session, error) {
	return s.mutatePathway(ctx, id, func(p *pathway.Pathway) error {
		return p.Finish()
	})
}

// EditStep replaces display fields of step i.
func (s *Service) EditStep(ctx context.Context, id string, i int, e pathway.StepEdit) (*Session, error) {
	return s.mutatePathway(ctx, id, func(p *pathway.Pathway) error {
		return p.EditStep(i, e)
	})
}

func (s *Service) mutatePathway(ctx context.Context, id string, fn func(p *pathway.Pathway) error) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Pathway == nil {
		return nil, ErrNoPathway
	}

	// mutate a copy so a failed operation leaves the stored session as it was
	p := sess.Pathway.Clone()
	if err := fn(p); err != nil {
		return nil, err
	}
	sess.Pathway = p
	sess.UpdatedAt = s.clock()
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return sess, nil
}

func (s *Service) load(ctx context.Context, id string) (*Session, error) {
	sess, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, nil
}

// gate admits sessions that have a non-critical decision.
func gate(sess *Session) error {
	if !sess.Classified() {
		return ErrClassificationPending
	}
	if sess.Decision.IsCritical() {
		return ErrEmergencyRoute
	}
	return nil
}

func rankResult(err error) string {
	switch {
	case errors.Is(err, ErrEmergencyRoute):
		return "emergency_route"
	case errors.Is(err, ErrClassificationPending):
		return "pending"
	default:
		return "error"
	}
}

func (s *Service) dispatchClassify(ctx context.Context, id string, gen uint64, a triage.Assessment, rule triage.RuleMatch) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runClassify(context.WithoutCancel(ctx), id, gen, a, rule)
	}()
}

func (s *Service) runClassify(ctx context.Context, id string, gen uint64, a triage.Assessment, rule triage.RuleMatch) {
	L := s.logger.With("session_id", id, "generation", gen)
	start := s.clock()

	var (
		ext *triage.ExternalResult
		err error
	)
	if s.classifier != nil {
		ext, err = s.classifier.Classify(ctx, a)
	}
	decision := triage.ReconcileOutcome(rule, ext, err)
	if err != nil {
		L.Warn(ctx, "external classification failed, using rule engine",
			"error", err,
			"fallback_reason", decision.FallbackReason,
		)
	}

	s.mu.Lock()
	sess, lerr := s.load(ctx, id)
	if lerr != nil {
		s.mu.Unlock()
		L.Error(ctx, lerr, "failed to fetch session for classification")
		return
	}
	if sess.ClassifyGen != gen {
		s.mu.Unlock()
		s.metrics.stale("classification")
		L.Info(ctx, "discarding stale classification", "current_generation", sess.ClassifyGen)
		return
	}
	sess.Decision = &decision
	sess.UpdatedAt = s.clock()
	perr := s.store.Put(ctx, sess)
	s.mu.Unlock()
	if perr != nil {
		L.Error(ctx, perr, "failed to persist decision")
		return
	}

	s.metrics.decision(decision, s.clock().Sub(start).Seconds())
	L.Info(ctx, "triage decision applied",
		"effective_level", decision.EffectiveLevel.String(),
		"rule_level", decision.RuleLevel.String(),
		"source", decision.Source,
		"critical", decision.IsCritical(),
	)

	if decision.IsCritical() {
		s.notifyCritical(ctx, sess)
	}
}

func (s *Service) notifyCritical(ctx context.Context, sess *Session) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyCritical(ctx, sess); err != nil {
		s.metrics.notification("error")
		s.logger.Error(ctx, err, "critical notification failed", "session_id", sess.ID)
		return
	}
	s.metrics.notification("sent")
}

func (s *Service) dispatchGenerate(ctx context.Context, id string, gen uint64, req pathway.Request) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runGenerate(context.WithoutCancel(ctx), id, gen, req)
	}()
}

func (s *Service) runGenerate(ctx context.Context, id string, gen uint64, req pathway.Request) {
	L := s.logger.With("session_id", id, "pathway_generation", gen, "facility_id", req.Facility.ID)
	start := s.clock()

	src := PathwayGenerated
	var guidance *pathway.Guidance
	if s.generator != nil {
		g, err := s.generator.Generate(ctx, req)
		if err != nil {
			L.Warn(ctx, "pathway generation failed, using default pathway", "error", err)
		} else {
			guidance = g
		}
	}
	if guidance == nil {
		def := pathway.DefaultGuidance()
		guidance = &def
		src = PathwayDefault
	}
	p := guidance.Build()

	s.mu.Lock()
	sess, err := s.load(ctx, id)
	if err != nil {
		s.mu.Unlock()
		L.Error(ctx, err, "failed to fetch session for pathway")
		return
	}
	if sess.PathwayGen != gen {
		s.mu.Unlock()
		s.metrics.stale("pathway")
		L.Info(ctx, "discarding stale pathway", "current_generation", sess.PathwayGen)
		return
	}
	sess.Pathway = p
	sess.PathwayPending = false
	sess.PathwaySource = src
	sess.UpdatedAt = s.clock()
	err = s.store.Put(ctx, sess)
	s.mu.Unlock()
	if err != nil {
		L.Error(ctx, err, "failed to persist pathway")
		return
	}

	s.metrics.pathway(src, s.clock().Sub(start).Seconds())
	L.Info(ctx, "care pathway installed", "source", src, "steps", p.Len())
}
