package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"prospect/internal/model"
)

// sqliteStore is the embedded backend over a single database file.
// Timestamps are stored as RFC 3339 text.
type sqliteStore struct {
	db *sql.DB
}

func openSQLite(dsn string) (*sqliteStore, error) {
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer keeps sqlite happy under concurrent ticks.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	return &sqliteStore{db: db}, nil
}

// DB exposes the handle for migrations.
func (s *sqliteStore) DB() *sql.DB { return s.db }

func (s *sqliteStore) Close() error { return s.db.Close() }

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := fmtTime(*t)
	return &s
}

func parseStoredTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

const sqliteColumns = `natural_key, platform, title, description, source_url,
	budget_min, budget_max, budget_type, skills_required,
	company, location, salary_range, client_country, client_rating,
	posted_at, scraped_at, created_at, updated_at,
	score, score_reason, score_details, status, notes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRow(row rowScanner) (*model.Opportunity, error) {
	var (
		o            model.Opportunity
		budgetType   string
		skillsRaw    sql.NullString
		clientRating sql.NullFloat64
		budgetMin    sql.NullFloat64
		budgetMax    sql.NullFloat64
		postedAt     sql.NullString
		scrapedAt    string
		createdAt    string
		updatedAt    string
		score        sql.NullInt64
		detailsRaw   sql.NullString
		status       string
	)
	err := row.Scan(&o.NaturalKey, &o.Platform, &o.Title, &o.Description, &o.SourceURL,
		&budgetMin, &budgetMax, &budgetType, &skillsRaw,
		&o.Company, &o.Location, &o.SalaryRange, &o.ClientCountry, &clientRating,
		&postedAt, &scrapedAt, &createdAt, &updatedAt,
		&score, &o.ScoreReason, &detailsRaw, &status, &o.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan opportunity: %w", err)
	}

	o.BudgetType = model.BudgetType(budgetType)
	o.Status = model.Status(status)
	if budgetMin.Valid {
		o.BudgetMin = &budgetMin.Float64
	}
	if budgetMax.Valid {
		o.BudgetMax = &budgetMax.Float64
	}
	if clientRating.Valid {
		o.ClientRating = &clientRating.Float64
	}
	if score.Valid {
		v := int(score.Int64)
		o.Score = &v
	}
	if skillsRaw.Valid {
		if o.SkillsRequired, err = decodeSkills([]byte(skillsRaw.String)); err != nil {
			return nil, err
		}
	}
	if detailsRaw.Valid {
		if o.ScoreDetails, err = decodeDetails([]byte(detailsRaw.String)); err != nil {
			return nil, err
		}
	}
	if postedAt.Valid {
		if t, err := parseStoredTime(postedAt.String); err == nil {
			o.PostedAt = &t
		}
	}
	if o.ScrapedAt, err = parseStoredTime(scrapedAt); err != nil {
		return nil, fmt.Errorf("parse scraped_at: %w", err)
	}
	if o.CreatedAt, err = parseStoredTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if o.UpdatedAt, err = parseStoredTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &o, nil
}

func (s *sqliteStore) GetByNaturalKey(ctx context.Context, key string) (*model.Opportunity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM opportunities WHERE natural_key = ?`, key)
	return scanSQLiteRow(row)
}

func (s *sqliteStore) Upsert(ctx context.Context, o *model.Opportunity) (bool, error) {
	if err := o.Validate(); err != nil {
		return false, err
	}

	now := time.Now().UTC()
	skills, err := encodeSkills(o.SkillsRequired)
	if err != nil {
		return false, err
	}
	details, err := encodeDetails(o.ScoreDetails)
	if err != nil {
		return false, err
	}

	existing, err := s.GetByNaturalKey(ctx, o.NaturalKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}

	if existing == nil {
		status := o.Status
		if status == "" {
			status = model.StatusDiscovered
		}
		var score *int
		if o.Score != nil {
			score = o.Score
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO opportunities (`+sqliteColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.NaturalKey, o.Platform, o.Title, o.Description, o.SourceURL,
			o.BudgetMin, o.BudgetMax, string(o.BudgetType), skills,
			o.Company, o.Location, o.SalaryRange, o.ClientCountry, o.ClientRating,
			fmtTimePtr(o.PostedAt), fmtTime(o.ScrapedAt), fmtTime(now), fmtTime(now),
			score, o.ScoreReason, details, string(status), o.Notes)
		if err == nil {
			return true, nil
		}
		// A concurrent writer may have inserted the same key between the
		// read and the insert; fall through to the update so the last
		// writer wins.
		if _, gerr := s.GetByNaturalKey(ctx, o.NaturalKey); gerr != nil {
			return false, fmt.Errorf("insert opportunity %s: %w", o.NaturalKey, err)
		}
	}

	// Existing rows keep created_at and status; score fields only move
	// forward when the incoming record was scored.
	var score *int
	var reason *string
	if o.Score != nil {
		score = o.Score
		reason = &o.ScoreReason
	} else {
		details = nil
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE opportunities SET
			platform = ?, title = ?, description = ?, source_url = ?,
			budget_min = ?, budget_max = ?, budget_type = ?, skills_required = ?,
			company = ?, location = ?, salary_range = ?, client_country = ?, client_rating = ?,
			posted_at = COALESCE(?, posted_at), scraped_at = ?, updated_at = ?,
			score = COALESCE(?, score),
			score_reason = COALESCE(?, score_reason),
			score_details = COALESCE(?, score_details)
		 WHERE natural_key = ?`,
		o.Platform, o.Title, o.Description, o.SourceURL,
		o.BudgetMin, o.BudgetMax, string(o.BudgetType), skills,
		o.Company, o.Location, o.SalaryRange, o.ClientCountry, o.ClientRating,
		fmtTimePtr(o.PostedAt), fmtTime(o.ScrapedAt), fmtTime(now),
		score, reason, details,
		o.NaturalKey)
	if err != nil {
		return false, fmt.Errorf("update opportunity %s: %w", o.NaturalKey, err)
	}
	return false, nil
}

func (s *sqliteStore) BatchUpsert(ctx context.Context, records []model.Opportunity) (int, int, error) {
	var inserted, updated int
	for i := range records {
		created, err := s.Upsert(ctx, &records[i])
		if err != nil {
			return inserted, updated, fmt.Errorf("batch upsert record %d: %w", i, err)
		}
		if created {
			inserted++
		} else {
			updated++
		}
	}
	return inserted, updated, nil
}

func (s *sqliteStore) queryRows(ctx context.Context, query string, args ...any) ([]model.Opportunity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query opportunities: %w", err)
	}
	defer rows.Close()

	var out []model.Opportunity
	for rows.Next() {
		o, err := scanSQLiteRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Top(ctx context.Context, limit, minScore int, exclude []model.Status) ([]model.Opportunity, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT ` + sqliteColumns + ` FROM opportunities WHERE score >= ?`
	args := []any{minScore}
	for _, st := range exclude {
		query += ` AND status != ?`
		args = append(args, string(st))
	}
	query += ` ORDER BY score DESC, created_at ASC LIMIT ?`
	args = append(args, limit)
	return s.queryRows(ctx, query, args...)
}

func (s *sqliteStore) ListByStatus(ctx context.Context, status model.Status, limit int) ([]model.Opportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryRows(ctx,
		`SELECT `+sqliteColumns+` FROM opportunities WHERE status = ?
		 ORDER BY created_at DESC LIMIT ?`, string(status), limit)
}

func (s *sqliteStore) ListByPlatform(ctx context.Context, platform string, limit int) ([]model.Opportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryRows(ctx,
		`SELECT `+sqliteColumns+` FROM opportunities WHERE platform = ?
		 ORDER BY created_at DESC LIMIT ?`, platform, limit)
}

func (s *sqliteStore) UpdateStatus(ctx context.Context, key string, next model.Status, notes string) error {
	var current string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM opportunities WHERE natural_key = ?`, key).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load status for %s: %w", key, err)
	}
	if err := checkTransition(model.Status(current), next); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE opportunities SET status = ?, updated_at = ?,
			notes = CASE WHEN ? != '' THEN ? ELSE notes END
		 WHERE natural_key = ?`,
		string(next), fmtTime(time.Now().UTC()), notes, notes, key)
	if err != nil {
		return fmt.Errorf("update status for %s: %w", key, err)
	}
	return nil
}

func (s *sqliteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByStatus: make(map[string]int), ByPlatform: make(map[string]int)}

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(score), 0),
		        COALESCE(SUM(CASE WHEN score >= ? THEN 1 ELSE 0 END), 0)
		 FROM opportunities`, highScoreFloor)
	if err := row.Scan(&stats.Total, &stats.AvgScore, &stats.HighScoreCount); err != nil {
		return nil, fmt.Errorf("stats totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM opportunities GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("stats by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT platform, COUNT(*) FROM opportunities GROUP BY platform`)
	if err != nil {
		return nil, fmt.Errorf("stats by platform: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var platform string
		var n int
		if err := rows.Scan(&platform, &n); err != nil {
			return nil, err
		}
		stats.ByPlatform[platform] = n
	}
	return stats, rows.Err()
}
