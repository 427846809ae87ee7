package postgres

import (
	"context"
	"fmt"

	"github.com/sentriapp/shift-engine/pkg/core/model"
)

// ListCandidates returns active personnel matching the shift's role. This
// is the raw candidate pool; availability filtering and scoring happen in
// the engine.
func (d *DB) ListCandidates(ctx context.Context, shift *model.Shift) ([]model.Personnel, error) {
	ctx, cancel := d.readCtx(ctx)
	defer cancel()

	rows, err := d.pool.Query(ctx, `
		SELECT id, name, certifications
		FROM personnel
		WHERE active AND role = $1
	`, shift.Role)
	if err != nil {
		return nil, timeoutErr("list candidates", fmt.Errorf("failed to query personnel: %w", err))
	}
	defer rows.Close()

	var candidates []model.Personnel
	for rows.Next() {
		var p model.Personnel
		if err := rows.Scan(&p.ID, &p.Name, &p.Certifications); err != nil {
			return nil, fmt.Errorf("failed to scan personnel: %w", err)
		}
		candidates = append(candidates, p)
	}

	if err := rows.Err(); err != nil {
		return nil, timeoutErr("list candidates", fmt.Errorf("error iterating personnel: %w", err))
	}

	return candidates, nil
}
