package postgres

import (
	"context"

	"github.com/joonhokim/buscall/internal/core/domain"
)

// RouteRepo implements ports.RouteRepository with pgx.
type RouteRepo struct {
	db *DB
}

// NewRouteRepo creates a new RouteRepo.
func NewRouteRepo(db *DB) *RouteRepo {
	return &RouteRepo{db: db}
}

func (r *RouteRepo) Upsert(ctx context.Context, route *domain.Route) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO routes (id, name, color)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, color = EXCLUDED.color
	`, route.ID, route.Name, route.Color)
	return err
}

func (r *RouteRepo) GetByID(ctx context.Context, id string) (*domain.Route, error) {
	var rt domain.Route
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(color, ''), created_at
		FROM routes WHERE id = $1
	`, id).Scan(&rt.ID, &rt.Name, &rt.Color, &rt.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

func (r *RouteRepo) ListAll(ctx context.Context) ([]domain.Route, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, name, COALESCE(color, ''), created_at
		FROM routes ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routes []domain.Route
	for rows.Next() {
		var rt domain.Route
		if err := rows.Scan(&rt.ID, &rt.Name, &rt.Color, &rt.CreatedAt); err != nil {
			return nil, err
		}
		routes = append(routes, rt)
	}
	return routes, rows.Err()
}
