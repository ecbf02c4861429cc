// Package store persists opportunities. Two backends implement the
// same interface: an embedded sqlite file for single-node runs and
// postgres for shared deployments.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"prospect/internal/model"
)

// ErrNotFound is returned when no row matches the natural key.
var ErrNotFound = errors.New("opportunity not found")

// ErrInvalidTransition is returned when a status update would move a
// record backwards in its lifecycle.
var ErrInvalidTransition = errors.New("invalid status transition")

// Stats summarises the table for the report command and the API.
type Stats struct {
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"by_status"`
	ByPlatform     map[string]int `json:"by_platform"`
	AvgScore       float64        `json:"avg_score"`
	HighScoreCount int            `json:"high_score_count"`
}

// highScoreFloor is the score at or above which a record counts as a
// high scorer in Stats.
const highScoreFloor = 80

// Store is the persistence surface used by the pipeline and the API.
//
// Upsert keys on natural_key: an existing row keeps its created_at and
// status, mutable fields are refreshed, and score fields are only
// overwritten when the incoming record carries a score. BatchUpsert
// applies records one by one; a failure reports how far it got.
// UpdateStatus advances the lifecycle and attaches operator notes when
// notes is non-empty; existing notes are kept otherwise.
type Store interface {
	Upsert(ctx context.Context, o *model.Opportunity) (created bool, err error)
	BatchUpsert(ctx context.Context, records []model.Opportunity) (inserted, updated int, err error)
	GetByNaturalKey(ctx context.Context, key string) (*model.Opportunity, error)
	Top(ctx context.Context, limit, minScore int, exclude []model.Status) ([]model.Opportunity, error)
	ListByStatus(ctx context.Context, status model.Status, limit int) ([]model.Opportunity, error)
	ListByPlatform(ctx context.Context, platform string, limit int) ([]model.Opportunity, error)
	UpdateStatus(ctx context.Context, key string, next model.Status, notes string) error
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// Open constructs the backend named by driver.
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite":
		return openSQLite(dsn)
	case "postgres":
		return openPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// encodeSkills serialises the skills list; empty lists map to NULL.
func encodeSkills(skills []string) (*string, error) {
	if len(skills) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(skills)
	if err != nil {
		return nil, fmt.Errorf("encode skills: %w", err)
	}
	s := string(raw)
	return &s, nil
}

func decodeSkills(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var skills []string
	if err := json.Unmarshal(raw, &skills); err != nil {
		return nil, fmt.Errorf("decode skills: %w", err)
	}
	return skills, nil
}

func encodeDetails(d *model.ScoreDetails) (*string, error) {
	if d == nil {
		return nil, nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode score details: %w", err)
	}
	s := string(raw)
	return &s, nil
}

func decodeDetails(raw []byte) (*model.ScoreDetails, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var d model.ScoreDetails
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode score details: %w", err)
	}
	return &d, nil
}

// checkTransition validates the lifecycle move shared by both
// backends' UpdateStatus.
func checkTransition(current, next model.Status) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	return nil
}
