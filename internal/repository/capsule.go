package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/timeseal/timeseal-go/internal/model"
)

var ErrCapsuleNotFound = errors.New("capsule not found")

// CapsuleRepository handles capsule persistence operations.
type CapsuleRepository struct {
	db *sql.DB
}

// NewCapsuleRepository creates a new CapsuleRepository.
func NewCapsuleRepository(db *sql.DB) *CapsuleRepository {
	return &CapsuleRepository{db: db}
}

const capsuleColumns = `id, owner_id, owner_email, name, message, code_hash,
	locked_until, footprint, attachment, is_opened, created_at, updated_at`

// Create inserts a new capsule record.
func (r *CapsuleRepository) Create(ctx context.Context, c *model.Capsule) error {
	query := `INSERT INTO capsules
		(id, owner_id, owner_email, name, message, code_hash, locked_until, footprint, attachment, is_opened)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	footprint, err := marshalOptional(c.Footprint)
	if err != nil {
		return err
	}
	attachment, err := marshalOptional(c.Attachment)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query,
		c.ID, c.OwnerID, c.OwnerEmail, c.Name, c.Message, c.CodeHash,
		c.LockedUntil, footprint, attachment, c.IsOpened,
	)
	return err
}

// GetByID retrieves a capsule by its ID.
func (r *CapsuleRepository) GetByID(ctx context.Context, id string) (*model.Capsule, error) {
	query := `SELECT ` + capsuleColumns + ` FROM capsules WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByOwner retrieves the capsule sealed by the given owner, newest first.
// This backs the one-capsule-per-owner check in the lifecycle engine.
func (r *CapsuleRepository) GetByOwner(ctx context.Context, ownerID int64) (*model.Capsule, error) {
	query := `SELECT ` + capsuleColumns + ` FROM capsules
		WHERE owner_id = ? ORDER BY created_at DESC LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, ownerID))
}

// GetByOwnerEmail retrieves the newest capsule sealed under the given email.
func (r *CapsuleRepository) GetByOwnerEmail(ctx context.Context, email string) (*model.Capsule, error) {
	query := `SELECT ` + capsuleColumns + ` FROM capsules
		WHERE owner_email = ? ORDER BY created_at DESC LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, email))
}

// ListByOwner retrieves a page of the owner's capsules, newest first.
func (r *CapsuleRepository) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]model.Capsule, error) {
	query := `SELECT ` + capsuleColumns + ` FROM capsules
		WHERE owner_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var capsules []model.Capsule
	for rows.Next() {
		c, err := scanCapsule(rows)
		if err != nil {
			return nil, err
		}
		capsules = append(capsules, *c)
	}

	return capsules, rows.Err()
}

// Count returns the total number of capsules, used for the global quota.
func (r *CapsuleRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM capsules`).Scan(&total)
	return total, err
}

// Rename updates the display name of a capsule.
func (r *CapsuleRepository) Rename(ctx context.Context, id, name string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE capsules SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// MarkOpened flips a capsule to the opened state and stores the decrypted
// message in a single conditional update. It reports whether this call won
// the transition; false means another attempt already opened the capsule and
// its stored plaintext is authoritative.
func (r *CapsuleRepository) MarkOpened(ctx context.Context, id, plaintext string) (bool, error) {
	query := `UPDATE capsules SET is_opened = TRUE, message = ?
		WHERE id = ? AND is_opened = FALSE`

	result, err := r.db.ExecContext(ctx, query, plaintext, id)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Delete removes a capsule record.
func (r *CapsuleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM capsules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *CapsuleRepository) scanOne(row *sql.Row) (*model.Capsule, error) {
	c, err := scanCapsule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCapsuleNotFound
		}
		return nil, err
	}
	return c, nil
}

func scanCapsule(row rowScanner) (*model.Capsule, error) {
	c := &model.Capsule{}
	var footprint, attachment sql.NullString

	err := row.Scan(
		&c.ID, &c.OwnerID, &c.OwnerEmail, &c.Name, &c.Message, &c.CodeHash,
		&c.LockedUntil, &footprint, &attachment, &c.IsOpened, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Footprint = decodeFootprint(c.ID, footprint)
	c.Attachment = decodeAttachment(c.ID, attachment)
	return c, nil
}

// decodeFootprint parses a stored footprint column. Malformed JSON is
// treated as no footprint: it is non-critical metadata and must not make
// the capsule unreadable.
func decodeFootprint(capsuleID string, raw sql.NullString) *model.Footprint {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var f model.Footprint
	if err := json.Unmarshal([]byte(raw.String), &f); err != nil {
		slog.Warn("ignoring malformed stored footprint", "capsule_id", capsuleID, "error", err)
		return nil
	}
	return &f
}

func decodeAttachment(capsuleID string, raw sql.NullString) *model.Attachment {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var a model.Attachment
	if err := json.Unmarshal([]byte(raw.String), &a); err != nil {
		slog.Warn("ignoring malformed stored attachment", "capsule_id", capsuleID, "error", err)
		return nil
	}
	return &a
}

// marshalOptional serializes an optional footprint/attachment to a nullable
// JSON column value.
func marshalOptional(v any) (sql.NullString, error) {
	switch t := v.(type) {
	case *model.Footprint:
		if t == nil {
			return sql.NullString{}, nil
		}
	case *model.Attachment:
		if t == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrCapsuleNotFound
	}
	return nil
}
