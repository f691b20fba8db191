// Package pgstore provides a PostgreSQL implementation of care.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/erpath/internal/care"
	"github.com/linnemanlabs/erpath/internal/facility"
	"github.com/linnemanlabs/erpath/internal/pathway"
	"github.com/linnemanlabs/erpath/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/erpath/internal/care/pgstore")

//go:embed schema.sql
var schema string

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists care sessions in PostgreSQL.
type Store struct {
	db DB
}

// New applies the schema and returns a ready Store. The caller owns db.
func New(ctx context.Context, db DB) (*Store, error) {
	if db == nil {
		panic(xerrors.New("pgstore.New: db is required"))
	}
	if _, err := db.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

const sessionColumns = `id, assessment, rule_match, decision, facility, pathway,
	classify_gen, pathway_gen, pathway_pending, pathway_source, created_at, updated_at`

// Get retrieves a session by ID.
func (s *Store) Get(ctx context.Context, id string) (*care.Session, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + sessionColumns + ` FROM care_sessions WHERE id = $1`
	sess, err := scanSession(s.db.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if sess == nil {
		return nil, false, nil
	}
	return sess, true, nil
}

// Put inserts or replaces a session.
func (s *Store) Put(ctx context.Context, sess *care.Session) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	if err := s.upsert(ctx, sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, sess *care.Session) error {
	assessment, err := json.Marshal(sess.Assessment)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}
	rule, err := json.Marshal(sess.RuleMatch)
	if err != nil {
		return fmt.Errorf("marshal rule match: %w", err)
	}
	decision, err := marshalOptional(sess.Decision)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	fac, err := marshalOptional(sess.Facility)
	if err != nil {
		return fmt.Errorf("marshal facility: %w", err)
	}
	path, err := marshalOptional(sess.Pathway)
	if err != nil {
		return fmt.Errorf("marshal pathway: %w", err)
	}
	classifyGen, err := toBigint(sess.ClassifyGen)
	if err != nil {
		return err
	}
	pathwayGen, err := toBigint(sess.PathwayGen)
	if err != nil {
		return err
	}

	var level *string
	if sess.Decision != nil {
		l := sess.Decision.EffectiveLevel.String()
		level = &l
	}

	query := `INSERT INTO care_sessions (
		id, assessment, rule_match, decision, facility, pathway, effective_level,
		classify_gen, pathway_gen, pathway_pending, pathway_source, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	ON CONFLICT (id) DO UPDATE SET
		assessment      = EXCLUDED.assessment,
		rule_match      = EXCLUDED.rule_match,
		decision        = EXCLUDED.decision,
		facility        = EXCLUDED.facility,
		pathway         = EXCLUDED.pathway,
		effective_level = EXCLUDED.effective_level,
		classify_gen    = EXCLUDED.classify_gen,
		pathway_gen     = EXCLUDED.pathway_gen,
		pathway_pending = EXCLUDED.pathway_pending,
		pathway_source  = EXCLUDED.pathway_source,
		updated_at      = EXCLUDED.updated_at`

	_, err = s.db.Exec(ctx, query,
		sess.ID, assessment, rule, decision, fac, path, level,
		classifyGen, pathwayGen, sess.PathwayPending, string(sess.PathwaySource),
		sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func marshalOptional[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func toBigint(gen uint64) (int64, error) {
	if gen > math.MaxInt64 {
		return 0, fmt.Errorf("generation %d overflows bigint", gen)
	}
	return int64(gen), nil
}

// scanSession scans one row. Returns (nil, nil) when no row is found.
func scanSession(row pgx.Row) (*care.Session, error) {
	var (
		sess                 care.Session
		assessment, rule     []byte
		decision, fac, path  []byte
		classifyGen, pathGen int64
		source               string
	)

	err := row.Scan(
		&sess.ID, &assessment, &rule, &decision, &fac, &path,
		&classifyGen, &pathGen, &sess.PathwayPending, &source,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	sess.ClassifyGen = uint64(classifyGen) //nolint:gosec // stored from uint64, never negative
	sess.PathwayGen = uint64(pathGen)      //nolint:gosec // stored from uint64, never negative
	sess.PathwaySource = care.PathwaySource(source)

	if err := json.Unmarshal(assessment, &sess.Assessment); err != nil {
		return nil, fmt.Errorf("unmarshal assessment: %w", err)
	}
	if err := json.Unmarshal(rule, &sess.RuleMatch); err != nil {
		return nil, fmt.Errorf("unmarshal rule match: %w", err)
	}
	if len(decision) > 0 {
		var d triage.Decision
		if err := json.Unmarshal(decision, &d); err != nil {
			return nil, fmt.Errorf("unmarshal decision: %w", err)
		}
		sess.Decision = &d
	}
	if len(fac) > 0 {
		var f facility.Facility
		if err := json.Unmarshal(fac, &f); err != nil {
			return nil, fmt.Errorf("unmarshal facility: %w", err)
		}
		sess.Facility = &f
	}
	if len(path) > 0 {
		var p pathway.Pathway
		if err := json.Unmarshal(path, &p); err != nil {
			return nil, fmt.Errorf("unmarshal pathway: %w", err)
		}
		sess.Pathway = &p
	}
	return &sess, nil
}
