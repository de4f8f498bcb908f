package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"github.com/ironsheep/omr-grader-mcp/internal/omr"
)

// Postgres stores schemes and scripts in PostgreSQL. Answers and results are
// kept as JSON documents; the scheme version is bumped by the upsert itself
// so a commit is a single atomic statement.
type Postgres struct{ DB *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{DB: db} }

// OpenPostgres connects, checks the connection and creates missing tables.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(1 * time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}

	p := NewPostgres(db)
	if err := p.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

const schema = `
create table if not exists omr_schemes (
  test_id       text primary key,
  questions     integer not null,
  answers_json  jsonb not null,
  version       integer not null,
  source_record uuid,
  created_at    timestamptz not null default now()
);
create table if not exists omr_scripts (
  record_id    uuid primary key,
  test_id      text not null,
  record_json  jsonb not null,
  result_json  jsonb,
  index_number text not null default '',
  score        integer,
  created_at   timestamptz not null default now()
);
create index if not exists omr_scripts_test_idx on omr_scripts (test_id, created_at);
alter table omr_scripts add column if not exists index_complete boolean not null default false;
create unique index if not exists omr_scripts_student_idx
  on omr_scripts (test_id, index_number) where index_complete;`

// Migrate creates the tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) GetScheme(ctx context.Context, testID string) (*omr.MarkScheme, error) {
	const q = `
select questions, answers_json, version, source_record, created_at
from omr_schemes
where test_id = $1`
	s := &omr.MarkScheme{TestID: testID}
	var js []byte
	err := p.DB.QueryRowContext(ctx, q, testID).Scan(&s.Questions, &js, &s.Version, &s.SourceRecord, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(js, &s.Answers); err != nil {
		return nil, fmt.Errorf("decode scheme %q: %w", testID, err)
	}
	return s, nil
}

func (p *Postgres) SaveScheme(ctx context.Context, s *omr.MarkScheme) (int, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	js, err := json.Marshal(s.Answers)
	if err != nil {
		return 0, err
	}
	const q = `
insert into omr_schemes (test_id, questions, answers_json, version, source_record, created_at)
values ($1,$2,$3,1,$4,$5)
on conflict (test_id) do update
set questions = excluded.questions,
    answers_json = excluded.answers_json,
    version = omr_schemes.version + 1,
    source_record = excluded.source_record,
    created_at = excluded.created_at
returning version`
	var version int
	if err := p.DB.QueryRowContext(ctx, q, s.TestID, s.Questions, js, s.SourceRecord, s.CreatedAt).Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func (p *Postgres) SaveScript(ctx context.Context, rec *omr.AnswerRecord, res *omr.GradingResult) error {
	recJS, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	var (
		resJS any
		score sql.NullInt64
	)
	if res != nil {
		b, err := json.Marshal(res)
		if err != nil {
			return err
		}
		resJS = b
		score = sql.NullInt64{Int64: int64(res.Score), Valid: true}
	}

	if studentIndex(rec) != "" {
		// One row per student: a rescan takes over the row, keeping the
		// newer submission when saves race.
		const q = `
insert into omr_scripts (record_id, test_id, record_json, result_json, index_number, score, created_at, index_complete)
values ($1,$2,$3,$4,$5,$6,$7,true)
on conflict (test_id, index_number) where index_complete do update
set record_id = excluded.record_id,
    record_json = excluded.record_json,
    result_json = excluded.result_json,
    score = excluded.score,
    created_at = excluded.created_at
where omr_scripts.created_at <= excluded.created_at`
		_, err = p.DB.ExecContext(ctx, q, rec.ID, rec.TestID, recJS, resJS, rec.IndexNumber, score, rec.CreatedAt)
		return err
	}

	const q = `
insert into omr_scripts (record_id, test_id, record_json, result_json, index_number, score, created_at)
values ($1,$2,$3,$4,$5,$6,$7)
on conflict (record_id) do update
set result_json = excluded.result_json,
    score = excluded.score`
	_, err = p.DB.ExecContext(ctx, q, rec.ID, rec.TestID, recJS, resJS, rec.IndexNumber, score, rec.CreatedAt)
	return err
}

func (p *Postgres) ListScripts(ctx context.Context, testID string) ([]Script, error) {
	const q = `
select record_json, result_json
from omr_scripts
where test_id = $1
order by created_at, record_id`
	rows, err := p.DB.QueryContext(ctx, q, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Script
	for rows.Next() {
		var recJS, resJS []byte
		if err := rows.Scan(&recJS, &resJS); err != nil {
			return nil, err
		}
		var sc Script
		if err := json.Unmarshal(recJS, &sc.Record); err != nil {
			return nil, fmt.Errorf("decode script: %w", err)
		}
		if len(resJS) > 0 {
			if err := json.Unmarshal(resJS, &sc.Result); err != nil {
				return nil, fmt.Errorf("decode result: %w", err)
			}
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error { return p.DB.Close() }
