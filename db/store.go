package db

import (
	"context"
	"database/sql"
	"strings"
)

// Store exposes typed accessors over the trust-store tables. Usernames and channel
// names are normalized to lower case on write so membership checks are
// case-insensitive without per-query LOWER() scans.
type Store struct {
	DB *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

// Allow list ----------------------------------------------------------------

func (s *Store) IsAllowed(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM whitelist WHERE username = $1)`, norm(username))
}

// AddAllowed inserts a username into the allow list. A duplicate insert is a no-op:
// both callers observe the post-condition "now present".
func (s *Store) AddAllowed(ctx context.Context, username string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO whitelist (username) VALUES ($1) ON CONFLICT (username) DO NOTHING`, norm(username))
	return err
}

func (s *Store) RemoveAllowed(ctx context.Context, username string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM whitelist WHERE username = $1`, norm(username))
	return err
}

// Deny list -----------------------------------------------------------------

func (s *Store) IsDenied(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM blacklist WHERE username = $1)`, norm(username))
}

func (s *Store) AddDenied(ctx context.Context, username string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO blacklist (username) VALUES ($1) ON CONFLICT (username) DO NOTHING`, norm(username))
	return err
}

func (s *Store) RemoveDenied(ctx context.Context, username string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM blacklist WHERE username = $1`, norm(username))
	return err
}

// Joinable channels ---------------------------------------------------------

func (s *Store) Channels(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT channel_name FROM joinable_channels ORDER BY channel_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) AddChannel(ctx context.Context, channel string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO joinable_channels (channel_name) VALUES ($1) ON CONFLICT (channel_name) DO NOTHING`, norm(channel))
	return err
}

func (s *Store) RemoveChannel(ctx context.Context, channel string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM joinable_channels WHERE channel_name = $1`, norm(channel))
	return err
}

// Known users ---------------------------------------------------------------

func (s *Store) IsKnownUser(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM known_users WHERE username = $1)`, norm(username))
}

// UpsertKnownUser records telemetry for a username. Nil fields leave any previously
// stored value untouched (merge-on-null); concrete prior values are never overwritten
// by NULLs.
func (s *Store) UpsertKnownUser(ctx context.Context, username string, confidence, ageYears, ageMonths, ageDays *int) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO known_users (username, confidence_score, account_age_years, account_age_months, account_age_days)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username) DO UPDATE SET
			confidence_score = COALESCE($2, known_users.confidence_score),
			account_age_years = COALESCE($3, known_users.account_age_years),
			account_age_months = COALESCE($4, known_users.account_age_months),
			account_age_days = COALESCE($5, known_users.account_age_days),
			updated_at = NOW()`,
		norm(username), nullable(confidence), nullable(ageYears), nullable(ageMonths), nullable(ageDays))
	return err
}

// Settings ------------------------------------------------------------------

// GetSetting returns the stored value for key, or empty string if absent.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var v sql.NullString
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v.String, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = NOW()`, key, value)
	return err
}

// IncrementPatCounter bumps the pat tally by one and returns the new value. The
// read-modify-write happens inside a single statement, so concurrent increments
// never lose updates and each caller observes a distinct value.
func (s *Store) IncrementPatCounter(ctx context.Context) (int64, error) {
	var v int64
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO settings (key, value) VALUES ('pat_counter', '1')
		ON CONFLICT (key) DO UPDATE SET
			value = (COALESCE(NULLIF(settings.value, ''), '0')::bigint + 1)::text,
			updated_at = NOW()
		RETURNING value::bigint`).Scan(&v)
	return v, err
}

// helpers -------------------------------------------------------------------

func (s *Store) exists(ctx context.Context, query string, arg any) (bool, error) {
	var ok bool
	if err := s.DB.QueryRowContext(ctx, query, arg).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func norm(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

func nullable(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
