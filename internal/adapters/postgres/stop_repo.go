package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/joonhokim/buscall/internal/core/domain"
)

// StopRepo implements ports.StopRepository with pgx.
type StopRepo struct {
	db *DB
}

// NewStopRepo creates a new StopRepo.
func NewStopRepo(db *DB) *StopRepo {
	return &StopRepo{db: db}
}

// Upsert inserts or updates a single stop and its route links.
func (r *StopRepo) Upsert(ctx context.Context, s *domain.Stop) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO stops (id, name, location)
		VALUES ($1, $2, ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, location = EXCLUDED.location
	`, s.ID, s.Name, s.Location.Lon, s.Location.Lat)
	if err != nil {
		return err
	}
	return r.replaceRouteLinks(ctx, s.ID, s.RouteIDs)
}

// UpsertBatch inserts many stops using pgx.Batch.
func (r *StopRepo) UpsertBatch(ctx context.Context, stops []domain.Stop) error {
	batch := &pgx.Batch{}
	for _, s := range stops {
		batch.Queue(`
			INSERT INTO stops (id, name, location)
			VALUES ($1, $2, ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, location = EXCLUDED.location
		`, s.ID, s.Name, s.Location.Lon, s.Location.Lat)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range stops {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}

	for _, s := range stops {
		if err := r.replaceRouteLinks(ctx, s.ID, s.RouteIDs); err != nil {
			return err
		}
	}
	return nil
}

func (r *StopRepo) replaceRouteLinks(ctx context.Context, stopID string, routeIDs []string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM stop_routes WHERE stop_id = $1`, stopID); err != nil {
		return err
	}
	for _, routeID := range routeIDs {
		if _, err := r.db.Pool.Exec(ctx, `
			INSERT INTO stop_routes (stop_id, route_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, stopID, routeID); err != nil {
			return err
		}
	}
	return nil
}

// GetByID returns one stop with its route ids.
func (r *StopRepo) GetByID(ctx context.Context, id string) (*domain.Stop, error) {
	var s domain.Stop
	err := r.db.Pool.QueryRow(ctx, `
		SELECT s.id, s.name,
		       ST_Y(s.location::geometry) AS lat,
		       ST_X(s.location::geometry) AS lon,
		       COALESCE(array_agg(sr.route_id) FILTER (WHERE sr.route_id IS NOT NULL), '{}'),
		       s.created_at
		FROM stops s
		LEFT JOIN stop_routes sr ON sr.stop_id = s.id
		WHERE s.id = $1
		GROUP BY s.id
	`, id).Scan(&s.ID, &s.Name, &s.Location.Lat, &s.Location.Lon, &s.RouteIDs, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListAll returns the full stop catalogue, route ids included. Used once at
// startup to build the region index.
func (r *StopRepo) ListAll(ctx context.Context) ([]domain.Stop, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT s.id, s.name,
		       ST_Y(s.location::geometry) AS lat,
		       ST_X(s.location::geometry) AS lon,
		       COALESCE(array_agg(sr.route_id) FILTER (WHERE sr.route_id IS NOT NULL), '{}'),
		       s.created_at
		FROM stops s
		LEFT JOIN stop_routes sr ON sr.stop_id = s.id
		GROUP BY s.id
		ORDER BY s.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stops []domain.Stop
	for rows.Next() {
		var s domain.Stop
		if err := rows.Scan(&s.ID, &s.Name, &s.Location.Lat, &s.Location.Lon, &s.RouteIDs, &s.CreatedAt); err != nil {
			return nil, err
		}
		stops = append(stops, s)
	}
	return stops, rows.Err()
}
