package db

import (
	"context"

	"chronos/internal/solarterm"
	"chronos/internal/types"
)

// TermRepository persists located solar-term nodes in the almanac_terms
// table. The primary key (year, target_deg) makes the first stored instant
// for a node authoritative: redeliveries and concurrent workers insert
// nothing on conflict, so the table never flickers between runs.
type TermRepository struct {
	db DBTX
}

// NewTermRepository creates a new repository backed by the given database connection.
func NewTermRepository(db DBTX) *TermRepository {
	return &TermRepository{db: db}
}

// UpsertYear inserts the located nodes of a year, skipping rows that already
// exist, and reports how many were actually inserted. A second delivery of
// the same year returns zero.
func (r *TermRepository) UpsertYear(ctx context.Context, year int, nodes []solarterm.Node) (int, error) {
	query := `
		INSERT INTO almanac_terms (year, target_deg, name, sectional, at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (year, target_deg) DO NOTHING`

	inserted := 0
	for _, node := range nodes {
		tag, err := r.db.Exec(ctx, query,
			year, int(node.TargetDeg), node.Name, node.Sectional, node.At.UTC())
		if err != nil {
			return inserted, types.NewAppError(types.ErrCodeInternalDB, "failed to insert almanac term", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// GetYear returns the stored nodes of a year ordered by instant. A year that
// has not been precomputed yields an empty slice, not an error.
func (r *TermRepository) GetYear(ctx context.Context, year int) ([]solarterm.Node, error) {
	query := `
		SELECT target_deg, name, sectional, at
		FROM almanac_terms
		WHERE year = $1
		ORDER BY at ASC`

	rows, err := r.db.Query(ctx, query, year)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query almanac terms", err)
	}
	defer rows.Close()

	nodes := make([]solarterm.Node, 0, solarterm.TermCount)
	for rows.Next() {
		var (
			targetDeg int
			node      solarterm.Node
		)
		if err := rows.Scan(&targetDeg, &node.Name, &node.Sectional, &node.At); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan almanac term row", err)
		}
		node.TargetDeg = float64(targetDeg)
		node.At = node.At.UTC()
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating almanac terms", err)
	}
	return nodes, nil
}
