// Package store persists lead scores to PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shpitdev/lead-engagement-pipeline/internal/lead"
	"github.com/shpitdev/lead-engagement-pipeline/pkg/pipeline/core"
)

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

const schemaSQL = `CREATE TABLE IF NOT EXISTS lead_scores (
	run_id           TEXT NOT NULL,
	lead_index       INTEGER NOT NULL,
	email            TEXT NOT NULL,
	name             TEXT NOT NULL,
	job_title        TEXT NOT NULL,
	company          TEXT NOT NULL,
	industry         TEXT NOT NULL,
	company_size     INTEGER NOT NULL,
	revenue          DOUBLE PRECISION,
	role_relevance   INTEGER NOT NULL,
	market_presence  INTEGER NOT NULL,
	score            INTEGER NOT NULL,
	scoring_criteria JSONB NOT NULL,
	validation_notes TEXT NOT NULL,
	total_tokens     INTEGER NOT NULL,
	scored_at        TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, lead_index)
)`

const upsertSQL = `INSERT INTO lead_scores (
	run_id, lead_index, email, name, job_title, company, industry, company_size, revenue,
	role_relevance, market_presence, score, scoring_criteria, validation_notes, total_tokens, scored_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (run_id, lead_index) DO UPDATE SET
	score = EXCLUDED.score,
	scoring_criteria = EXCLUDED.scoring_criteria,
	validation_notes = EXCLUDED.validation_notes,
	total_tokens = EXCLUDED.total_tokens,
	scored_at = EXCLUDED.scored_at`

type Store struct {
	db  DB
	now func() time.Time
}

func New(db DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open connects a pool to dsn and makes sure the lead_scores table exists.
// The returned close func releases the pool.
func Open(ctx context.Context, dsn string) (*Store, func(), error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, nil, fmt.Errorf("database url is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := New(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create lead_scores: %w", err)
	}
	return nil
}

// Save upserts one row per scored lead, keyed by run and input index. The rows
// of a run are written in one transaction: either all of them land or none.
func (s *Store) Save(ctx context.Context, runID string, scored []lead.ScoredLead) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("store: run id is required")
	}
	if len(scored) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin lead_scores transaction: %w", err)
	}
	defer func() {
		// No-op once committed.
		_ = tx.Rollback(ctx)
	}()

	at := s.now().UTC()
	for _, sl := range scored {
		criteria, err := json.Marshal(nonNil(sl.LeadScore.ScoringCriteria))
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, upsertSQL,
			runID,
			sl.Index,
			sl.Lead.Email,
			sl.PersonalInfo.Name,
			sl.PersonalInfo.JobTitle,
			sl.CompanyInfo.CompanyName,
			sl.CompanyInfo.Industry,
			sl.CompanyInfo.CompanySize,
			sl.CompanyInfo.Revenue,
			sl.PersonalInfo.RoleRelevance,
			sl.CompanyInfo.MarketPresence,
			sl.LeadScore.Score,
			string(criteria),
			sl.LeadScore.ValidationNotes,
			sl.Usage.TotalTokens,
			at,
		)
		if err != nil {
			return fmt.Errorf("store lead %d: %w", sl.Index, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit lead_scores: %w", err)
	}
	return nil
}

// ForRun binds the store to a run so it can be used as an output adapter.
func (s *Store) ForRun(runID string) core.OutputAdapter[lead.ScoredLead] {
	return runWriter{store: s, runID: runID}
}

type runWriter struct {
	store *Store
	runID string
}

func (w runWriter) Store(ctx context.Context, rows []lead.ScoredLead) error {
	return w.store.Save(ctx, w.runID, rows)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
