package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/xid"

	"github.com/sakif/promptr-access/internal/apperror"
	"github.com/sakif/promptr-access/internal/model"
	"github.com/sakif/promptr-access/internal/repository"
)

var _ repository.UserAccessRepository = (*DB)(nil)

const userAccessColumns = `id, email, access_token, stripe_customer_id, status, created_at, updated_at`

func scanUserAccess(row pgx.Row) (*model.UserAccess, error) {
	var (
		ua     model.UserAccess
		status string
	)
	if err := row.Scan(&ua.ID, &ua.Email, &ua.AccessToken, &ua.StripeCustomerID, &status, &ua.CreatedAt, &ua.UpdatedAt); err != nil {
		return nil, err
	}
	ua.Status = model.Status(status)
	return &ua, nil
}

func (db *DB) UpsertFromCheckout(ctx context.Context, email, customerID, newToken string) (*model.UserAccess, error) {
	row := db.pool.QueryRow(ctx,
		`INSERT INTO user_access (id, email, access_token, stripe_customer_id, status)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (email) DO UPDATE SET
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			status             = EXCLUDED.status,
			updated_at         = now()
		 RETURNING `+userAccessColumns,
		xid.New().String(), email, newToken, customerID, string(model.StatusTrialing),
	)

	ua, err := scanUserAccess(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.Conflict("user_access", email)
		}
		return nil, fmt.Errorf("postgres: upserting user_access %s: %w", email, err)
	}
	return ua, nil
}

// EnsureExists returns no row from the INSERT when the email already exists,
// so the existing row is read back separately.
func (db *DB) EnsureExists(ctx context.Context, email, newToken string) (*model.UserAccess, bool, error) {
	row := db.pool.QueryRow(ctx,
		`INSERT INTO user_access (id, email, access_token, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO NOTHING
		 RETURNING `+userAccessColumns,
		xid.New().String(), email, newToken, string(model.StatusTrialing),
	)

	ua, err := scanUserAccess(row)
	switch {
	case err == nil:
		return ua, true, nil
	case isNotFound(err):
		existing, err := db.GetByEmail(ctx, email)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	case isUniqueViolation(err):
		return nil, false, apperror.Conflict("user_access", email)
	default:
		return nil, false, fmt.Errorf("postgres: ensuring user_access %s: %w", email, err)
	}
}

func (db *DB) GetByEmail(ctx context.Context, email string) (*model.UserAccess, error) {
	return db.getBy(ctx, "email", email)
}

func (db *DB) GetByAccessToken(ctx context.Context, token string) (*model.UserAccess, error) {
	return db.getBy(ctx, "access_token", token)
}

func (db *DB) GetByCustomerID(ctx context.Context, customerID string) (*model.UserAccess, error) {
	return db.getBy(ctx, "stripe_customer_id", customerID)
}

// getBy is only called with the fixed column names above.
func (db *DB) getBy(ctx context.Context, column, value string) (*model.UserAccess, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+userAccessColumns+` FROM user_access WHERE `+column+` = $1 LIMIT 1`,
		value,
	)

	ua, err := scanUserAccess(row)
	if err != nil {
		if isNotFound(err) {
			return nil, apperror.NotFound("user_access", value)
		}
		return nil, fmt.Errorf("postgres: getting user_access by %s: %w", column, err)
	}
	return ua, nil
}

func (db *DB) SetStatusByEmail(ctx context.Context, email string, status model.Status) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE user_access SET status = $1, updated_at = now() WHERE email = $2`,
		string(status), email,
	)
	if err != nil {
		return fmt.Errorf("postgres: setting status for %s: %w", email, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("user_access", email)
	}
	return nil
}

func (db *DB) SetStatusByCustomerID(ctx context.Context, customerID string, status model.Status) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE user_access SET status = $1, updated_at = now() WHERE stripe_customer_id = $2`,
		string(status), customerID,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: setting status for customer %s: %w", customerID, err)
	}
	return tag.RowsAffected(), nil
}

func (db *DB) ClearCustomerID(ctx context.Context, email string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE user_access SET stripe_customer_id = NULL, updated_at = now() WHERE email = $1`,
		email,
	)
	if err != nil {
		return fmt.Errorf("postgres: clearing customer for %s: %w", email, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("user_access", email)
	}
	return nil
}

func (db *DB) DeleteByEmail(ctx context.Context, email string) (bool, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM user_access WHERE email = $1`, email)
	if err != nil {
		return false, fmt.Errorf("postgres: deleting user_access %s: %w", email, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.UserAccess, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+userAccessColumns+` FROM user_access
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1 OFFSET $2`,
		limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing user_access: %w", err)
	}
	defer rows.Close()

	result := []model.UserAccess{}
	for rows.Next() {
		ua, err := scanUserAccess(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scanning user_access: %w", err)
		}
		result = append(result, *ua)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterating user_access: %w", err)
	}
	return result, nil
}
