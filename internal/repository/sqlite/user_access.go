package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/promptr-access/internal/apperror"
	"github.com/sakif/promptr-access/internal/model"
	"github.com/sakif/promptr-access/internal/repository"
)

// compile-time check that *DB implements repository.UserAccessRepository
var _ repository.UserAccessRepository = (*DB)(nil)

const userAccessColumns = `id, email, access_token, stripe_customer_id, status, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserAccess(row rowScanner) (*model.UserAccess, error) {
	var (
		ua       model.UserAccess
		customer sql.NullString
		status   string
	)
	if err := row.Scan(&ua.ID, &ua.Email, &ua.AccessToken, &customer, &status, &ua.CreatedAt, &ua.UpdatedAt); err != nil {
		return nil, err
	}
	if customer.Valid {
		ua.StripeCustomerID = &customer.String
	}
	ua.Status = model.Status(status)
	return &ua, nil
}

// UpsertFromCheckout inserts a trialing row or, when the email already exists,
// links the customer and resets the status to trialing. The existing access
// token is kept, so a replayed webhook never invalidates the extension.
func (db *DB) UpsertFromCheckout(ctx context.Context, email, customerID, newToken string) (*model.UserAccess, error) {
	now := time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO user_access (id, email, access_token, stripe_customer_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET
			stripe_customer_id = excluded.stripe_customer_id,
			status             = excluded.status,
			updated_at         = excluded.updated_at`,
		xid.New().String(), email, newToken, customerID, string(model.StatusTrialing), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: upserting user_access %s: %w", email, err)
	}
	return db.GetByEmail(ctx, email)
}

// EnsureExists relies on ON CONFLICT DO NOTHING: zero affected rows means the
// email was already present.
func (db *DB) EnsureExists(ctx context.Context, email, newToken string) (*model.UserAccess, bool, error) {
	now := time.Now().UTC()

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO user_access (id, email, access_token, stripe_customer_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, NULL, ?, ?, ?)
		 ON CONFLICT(email) DO NOTHING`,
		xid.New().String(), email, newToken, string(model.StatusTrialing), now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: ensuring user_access %s: %w", email, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: rows affected: %w", err)
	}

	ua, err := db.GetByEmail(ctx, email)
	if err != nil {
		return nil, false, err
	}
	return ua, n > 0, nil
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
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userAccessColumns+` FROM user_access WHERE `+column+` = ? LIMIT 1`,
		value,
	)

	ua, err := scanUserAccess(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user_access", value)
		}
		return nil, fmt.Errorf("sqlite: getting user_access by %s: %w", column, err)
	}
	return ua, nil
}

// SetStatusByEmail returns apperror.ErrNotFound when no row has that email.
func (db *DB) SetStatusByEmail(ctx context.Context, email string, status model.Status) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE user_access SET status = ?, updated_at = ? WHERE email = ?`,
		string(status), time.Now().UTC(), email,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting status for %s: %w", email, err)
	}
	return requireAffected(res, email)
}

func (db *DB) SetStatusByCustomerID(ctx context.Context, customerID string, status model.Status) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE user_access SET status = ?, updated_at = ? WHERE stripe_customer_id = ?`,
		string(status), time.Now().UTC(), customerID,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: setting status for customer %s: %w", customerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return n, nil
}

func (db *DB) ClearCustomerID(ctx context.Context, email string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE user_access SET stripe_customer_id = NULL, updated_at = ? WHERE email = ?`,
		time.Now().UTC(), email,
	)
	if err != nil {
		return fmt.Errorf("sqlite: clearing customer for %s: %w", email, err)
	}
	return requireAffected(res, email)
}

func (db *DB) DeleteByEmail(ctx context.Context, email string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM user_access WHERE email = ?`, email)
	if err != nil {
		return false, fmt.Errorf("sqlite: deleting user_access %s: %w", email, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return n > 0, nil
}

// List returns rows newest first.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.UserAccess, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userAccessColumns+` FROM user_access
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing user_access: %w", err)
	}
	defer rows.Close()

	result := []model.UserAccess{}
	for rows.Next() {
		ua, err := scanUserAccess(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user_access: %w", err)
		}
		result = append(result, *ua)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating user_access: %w", err)
	}
	return result, nil
}

func requireAffected(res sql.Result, email string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user_access", email)
	}
	return nil
}
