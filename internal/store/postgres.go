package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sqlc-dev/pqtype"

	"prospect/internal/model"
)

// postgresStore is the networked backend for shared deployments.
type postgresStore struct {
	db *sql.DB
}

func openPostgres(dsn string) (*postgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &postgresStore{db: db}, nil
}

// DB exposes the handle for migrations.
func (s *postgresStore) DB() *sql.DB { return s.db }

func (s *postgresStore) Close() error { return s.db.Close() }

const pgColumns = `natural_key, platform, title, description, source_url,
	budget_min, budget_max, budget_type, skills_required,
	company, location, salary_range, client_country, client_rating,
	posted_at, scraped_at, created_at, updated_at,
	score, score_reason, score_details, status, notes`

func scanPGRow(row rowScanner) (*model.Opportunity, error) {
	var (
		o            model.Opportunity
		budgetType   string
		skillsRaw    pqtype.NullRawMessage
		clientRating sql.NullFloat64
		budgetMin    sql.NullFloat64
		budgetMax    sql.NullFloat64
		postedAt     sql.NullTime
		score        sql.NullInt64
		detailsRaw   pqtype.NullRawMessage
		status       string
	)
	err := row.Scan(&o.NaturalKey, &o.Platform, &o.Title, &o.Description, &o.SourceURL,
		&budgetMin, &budgetMax, &budgetType, &skillsRaw,
		&o.Company, &o.Location, &o.SalaryRange, &o.ClientCountry, &clientRating,
		&postedAt, &o.ScrapedAt, &o.CreatedAt, &o.UpdatedAt,
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
	if postedAt.Valid {
		t := postedAt.Time.UTC()
		o.PostedAt = &t
	}
	if score.Valid {
		v := int(score.Int64)
		o.Score = &v
	}
	if skillsRaw.Valid {
		if o.SkillsRequired, err = decodeSkills(skillsRaw.RawMessage); err != nil {
			return nil, err
		}
	}
	if detailsRaw.Valid {
		if o.ScoreDetails, err = decodeDetails(detailsRaw.RawMessage); err != nil {
			return nil, err
		}
	}
	o.ScrapedAt = o.ScrapedAt.UTC()
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

func (s *postgresStore) GetByNaturalKey(ctx context.Context, key string) (*model.Opportunity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pgColumns+` FROM opportunities WHERE natural_key = $1`, key)
	return scanPGRow(row)
}

func (s *postgresStore) Upsert(ctx context.Context, o *model.Opportunity) (bool, error) {
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
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO opportunities (`+pgColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, CAST($9 AS jsonb),
			         $10, $11, $12, $13, $14, $15, $16, $17, $18,
			         $19, $20, CAST($21 AS jsonb), $22, $23)`,
			o.NaturalKey, o.Platform, o.Title, o.Description, o.SourceURL,
			o.BudgetMin, o.BudgetMax, string(o.BudgetType), skills,
			o.Company, o.Location, o.SalaryRange, o.ClientCountry, o.ClientRating,
			o.PostedAt, o.ScrapedAt, now, now,
			o.Score, o.ScoreReason, details, string(status), o.Notes)
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
			platform = $1, title = $2, description = $3, source_url = $4,
			budget_min = $5, budget_max = $6, budget_type = $7, skills_required = CAST($8 AS jsonb),
			company = $9, location = $10, salary_range = $11, client_country = $12, client_rating = $13,
			posted_at = COALESCE($14, posted_at), scraped_at = $15, updated_at = $16,
			score = COALESCE($17, score),
			score_reason = COALESCE($18, score_reason),
			score_details = COALESCE(CAST($19 AS jsonb), score_details)
		 WHERE natural_key = $20`,
		o.Platform, o.Title, o.Description, o.SourceURL,
		o.BudgetMin, o.BudgetMax, string(o.BudgetType), skills,
		o.Company, o.Location, o.SalaryRange, o.ClientCountry, o.ClientRating,
		o.PostedAt, o.ScrapedAt, now,
		score, reason, details,
		o.NaturalKey)
	if err != nil {
		return false, fmt.Errorf("update opportunity %s: %w", o.NaturalKey, err)
	}
	return false, nil
}

func (s *postgresStore) BatchUpsert(ctx context.Context, records []model.Opportunity) (int, int, error) {
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

func (s *postgresStore) queryRows(ctx context.Context, query string, args ...any) ([]model.Opportunity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query opportunities: %w", err)
	}
	defer rows.Close()

	var out []model.Opportunity
	for rows.Next() {
		o, err := scanPGRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *postgresStore) Top(ctx context.Context, limit, minScore int, exclude []model.Status) ([]model.Opportunity, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT ` + pgColumns + ` FROM opportunities WHERE score >= $1`
	args := []any{minScore}
	for _, st := range exclude {
		args = append(args, string(st))
		query += fmt.Sprintf(` AND status != $%d`, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY score DESC, created_at ASC LIMIT $%d`, len(args))
	return s.queryRows(ctx, query, args...)
}

func (s *postgresStore) ListByStatus(ctx context.Context, status model.Status, limit int) ([]model.Opportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryRows(ctx,
		`SELECT `+pgColumns+` FROM opportunities WHERE status = $1
		 ORDER BY created_at DESC LIMIT $2`, string(status), limit)
}

func (s *postgresStore) ListByPlatform(ctx context.Context, platform string, limit int) ([]model.Opportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryRows(ctx,
		`SELECT `+pgColumns+` FROM opportunities WHERE platform = $1
		 ORDER BY created_at DESC LIMIT $2`, platform, limit)
}

func (s *postgresStore) UpdateStatus(ctx context.Context, key string, next model.Status, notes string) error {
	var current string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM opportunities WHERE natural_key = $1`, key).Scan(&current)
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
		`UPDATE opportunities SET status = $1, updated_at = $2,
			notes = CASE WHEN $3 != '' THEN $3 ELSE notes END
		 WHERE natural_key = $4`,
		string(next), time.Now().UTC(), notes, key)
	if err != nil {
		return fmt.Errorf("update status for %s: %w", key, err)
	}
	return nil
}

func (s *postgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByStatus: make(map[string]int), ByPlatform: make(map[string]int)}

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(score), 0),
		        COALESCE(SUM(CASE WHEN score >= $1 THEN 1 ELSE 0 END), 0)
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
