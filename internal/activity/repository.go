package activity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ContentBlock struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Order int    `json:"order"`
}

type Activity struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	UserID    string         `json:"userId"`
	Content   []ContentBlock `json:"content"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type ActivityInput struct {
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Content []ContentBlock `json:"content"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) List(ctx context.Context) ([]Activity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.activity_type, a.title, a.user_id, a.created_at, a.updated_at,
		       c.content_key, c.content_value, c.position
		FROM activities a
		LEFT JOIN activity_content c ON c.activity_id = a.id
		WHERE a.deleted_at IS NULL
		ORDER BY a.created_at DESC, c.position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	return collectActivities(rows)
}

func (r *Repository) Get(ctx context.Context, id string) (Activity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.activity_type, a.title, a.user_id, a.created_at, a.updated_at,
		       c.content_key, c.content_value, c.position
		FROM activities a
		LEFT JOIN activity_content c ON c.activity_id = a.id
		WHERE a.id = $1 AND a.deleted_at IS NULL
		ORDER BY c.position ASC
	`, id)
	if err != nil {
		return Activity{}, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	activities, err := collectActivities(rows)
	if err != nil {
		return Activity{}, err
	}
	if len(activities) == 0 {
		return Activity{}, sql.ErrNoRows
	}

	return activities[0], nil
}

// Create stores the activity and its ordered content blocks in a single
// transaction.
func (r *Repository) Create(ctx context.Context, input ActivityInput, userID string) (Activity, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Activity{}, fmt.Errorf("generate activity id: %w", err)
	}

	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Activity{}, fmt.Errorf("begin create activity tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO activities (id, activity_type, title, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, id.String(), input.Type, input.Title, userID, now); err != nil {
		return Activity{}, fmt.Errorf("insert activity: %w", err)
	}

	if err := insertContent(ctx, tx, id.String(), input.Content); err != nil {
		return Activity{}, err
	}

	if err := tx.Commit(); err != nil {
		return Activity{}, fmt.Errorf("commit create activity tx: %w", err)
	}

	return Activity{
		ID:        id.String(),
		Type:      input.Type,
		Title:     input.Title,
		UserID:    userID,
		Content:   orderedContent(input.Content),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Update replaces the activity row and its content blocks. Returns the owner
// of the stored row so the handler can enforce the ownership rule.
func (r *Repository) Update(ctx context.Context, id string, input ActivityInput) (Activity, error) {
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Activity{}, fmt.Errorf("begin update activity tx: %w", err)
	}
	defer tx.Rollback()

	var userID string
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `
		UPDATE activities
		SET activity_type = $2, title = $3, updated_at = $4
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING user_id, created_at
	`, id, input.Type, input.Title, now).Scan(&userID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Activity{}, err
		}
		return Activity{}, fmt.Errorf("update activity: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM activity_content WHERE activity_id = $1`, id); err != nil {
		return Activity{}, fmt.Errorf("clear activity content: %w", err)
	}
	if err := insertContent(ctx, tx, id, input.Content); err != nil {
		return Activity{}, err
	}

	if err := tx.Commit(); err != nil {
		return Activity{}, fmt.Errorf("commit update activity tx: %w", err)
	}

	return Activity{
		ID:        id,
		Type:      input.Type,
		Title:     input.Title,
		UserID:    userID,
		Content:   orderedContent(input.Content),
		CreatedAt: createdAt,
		UpdatedAt: now,
	}, nil
}

// Owner returns the user id that created the activity.
func (r *Repository) Owner(ctx context.Context, id string) (string, error) {
	var userID string
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id FROM activities WHERE id = $1 AND deleted_at IS NULL
	`, id).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("query activity owner: %w", err)
	}

	return userID, nil
}

// SoftDelete hides the activity; rows are purged later by maintenance.
func (r *Repository) SoftDelete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE activities
		SET deleted_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("soft delete activity: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// PurgeDeleted removes soft-deleted activities past the retention cutoff in
// bounded batches. Content rows go with them via the FK cascade.
func (r *Repository) PurgeDeleted(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM activities
			WHERE deleted_at IS NOT NULL AND deleted_at < $1
			ORDER BY deleted_at ASC
			LIMIT $2
		)
		DELETE FROM activities a
		USING stale
		WHERE a.id = stale.id
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("purge deleted activities: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}

	return affected, nil
}

func insertContent(ctx context.Context, tx *sql.Tx, activityID string, blocks []ContentBlock) error {
	for index, block := range blocks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO activity_content (activity_id, position, content_key, content_value)
			VALUES ($1, $2, $3, $4)
		`, activityID, index, block.Key, block.Value); err != nil {
			return fmt.Errorf("insert activity content: %w", err)
		}
	}

	return nil
}

func orderedContent(blocks []ContentBlock) []ContentBlock {
	ordered := make([]ContentBlock, len(blocks))
	for index, block := range blocks {
		block.Order = index
		ordered[index] = block
	}
	return ordered
}

func collectActivities(rows *sql.Rows) ([]Activity, error) {
	activities := make([]Activity, 0)
	byID := make(map[string]int)

	for rows.Next() {
		var a Activity
		var key, value sql.NullString
		var position sql.NullInt64
		if err := rows.Scan(&a.ID, &a.Type, &a.Title, &a.UserID, &a.CreatedAt, &a.UpdatedAt, &key, &value, &position); err != nil {
			return nil, fmt.Errorf("scan activity row: %w", err)
		}

		index, seen := byID[a.ID]
		if !seen {
			a.Content = make([]ContentBlock, 0)
			activities = append(activities, a)
			index = len(activities) - 1
			byID[a.ID] = index
		}

		if key.Valid {
			activities[index].Content = append(activities[index].Content, ContentBlock{
				Key:   key.String,
				Value: value.String,
				Order: int(position.Int64),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity rows: %w", err)
	}

	return activities, nil
}
