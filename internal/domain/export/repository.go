package export

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerpipe/ledgerpipe/pkg/db"
)

// Repository persists export profiles.
type Repository struct {
	db db.Querier
}

func NewRepository(q db.Querier) *Repository {
	return &Repository{db: q}
}

// Create stores a profile; the mapping is serialized to jsonb.
func (r *Repository) Create(ctx context.Context, p *Profile) error {
	if err := p.Mapping.Validate(); err != nil {
		return err
	}
	mapping, err := json.Marshal(p.Mapping)
	if err != nil {
		return fmt.Errorf("marshal field mapping: %w", err)
	}
	query := `
		INSERT INTO export_profiles (user_id, name, target, field_mapping, range_policy)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err = r.db.QueryRow(ctx, query, p.UserID, p.Name, p.Target, mapping, p.RangePolicy).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create export profile: %w", err)
	}
	return nil
}

// GetByID fetches one profile of the user.
func (r *Repository) GetByID(ctx context.Context, userID, id uuid.UUID) (*Profile, error) {
	query := `
		SELECT id, user_id, name, target, field_mapping, range_policy, created_at
		FROM export_profiles
		WHERE id = $1 AND user_id = $2
	`
	var (
		p       Profile
		mapping []byte
	)
	err := r.db.QueryRow(ctx, query, id, userID).Scan(
		&p.ID, &p.UserID, &p.Name, &p.Target, &mapping, &p.RangePolicy, &p.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get export profile: %w", err)
	}
	if err := json.Unmarshal(mapping, &p.Mapping); err != nil {
		return nil, fmt.Errorf("unmarshal field mapping: %w", err)
	}
	return &p, nil
}

// CategoryNames returns the user's category id to name mapping for
// rendering the category column.
func (r *Repository) CategoryNames(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]string, error) {
	query := `SELECT id, name FROM categories WHERE user_id = $1`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("category names: %w", err)
	}
	defer rows.Close()

	names := map[uuid.UUID]string{}
	for rows.Next() {
		var (
			id   uuid.UUID
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan category name: %w", err)
		}
		names[id] = name
	}
	return names, rows.Err()
}
