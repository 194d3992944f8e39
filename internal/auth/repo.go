package auth

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository reads manager assignments from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Subordinates lists the users assigned to a manager.
func (r *PGRepository) Subordinates(ctx context.Context, tenantID, managerID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM manager_assignments
WHERE tenant_id = $1 AND manager_id = $2 ORDER BY user_id`, tenantID, managerID)
	if err != nil {
		return nil, fmt.Errorf("auth: subordinates: %w", err)
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ SubordinateSource = (*PGRepository)(nil)
