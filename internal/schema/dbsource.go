package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBSource reads schema documents from the _schemas system table, one JSONB
// definition per entity.
type DBSource struct {
	pool *pgxpool.Pool
}

func NewDBSource(pool *pgxpool.Pool) *DBSource {
	return &DBSource{pool: pool}
}

func (s *DBSource) LoadRaw(ctx context.Context, entity string) (*RawDocument, error) {
	var defJSON []byte
	err := s.pool.QueryRow(ctx,
		"SELECT definition FROM _schemas WHERE name = $1", entity).Scan(&defJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, entity)
		}
		return nil, fmt.Errorf("load schema %s: %w", entity, err)
	}

	var raw RawDocument
	if err := json.Unmarshal(defJSON, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalid, entity, err)
	}
	if raw.Name == "" {
		raw.Name = entity
	}
	return &raw, nil
}
