package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"fineas-core/internal/adapter/store/migrations"
	"fineas-core/internal/domain/entity"
)

// SQLiteStore persists accounts and conversations in a local SQLite file.
// Ledger mutations are single conditional statements, so concurrent
// callers cannot interleave inside a read-check-write.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) ledger.db under dataDir and runs
// pending migrations.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "ledger.db")

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}
		if err := s.applyMigration(fsys, name, version); err != nil {
			return err
		}
	}
	return nil
}

// applyMigration runs one file and records its version in a single
// transaction, so a failed file leaves neither schema nor version behind.
func (s *SQLiteStore) applyMigration(fsys embed.FS, name string, version int) error {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("reading migration %s: %w", name, err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting migration %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("executing migration %s: %w", name, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("recording migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %s: %w", name, err)
	}
	log.Printf("[LEDGER] Applied migration %s", name)
	return nil
}

// ==================== Ledger ====================

const accountColumns = `credits, is_member, COALESCE(billing_customer_ref, ''), created_at`

func (s *SQLiteStore) Enforce(ctx context.Context, userKey string, defaultCredits int) (entity.EnforceResult, error) {
	now := time.Now().UTC()
	created, err := s.insertIfAbsent(ctx, userKey, defaultCredits, now)
	if err != nil {
		return entity.EnforceResult{}, err
	}
	if created {
		return entity.EnforceResult{
			Outcome: entity.Allowed,
			Account: entity.Account{UserKey: userKey, Credits: defaultCredits, CreatedAt: now.Truncate(time.Second)},
			Created: true,
		}, nil
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE accounts SET credits = credits - 1
		WHERE user_key = ? AND credits > 0
		RETURNING `+accountColumns, userKey)
	acc, err := scanAccount(userKey, row)
	if err == nil {
		return entity.EnforceResult{Outcome: entity.Allowed, Account: *acc}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return entity.EnforceResult{}, fmt.Errorf("decrementing credits: %w", err)
	}

	// Nothing to decrement: only membership can still allow the request.
	acc, err = s.get(ctx, userKey)
	if err != nil {
		return entity.EnforceResult{}, err
	}
	if acc.IsMember {
		return entity.EnforceResult{Outcome: entity.Allowed, Account: *acc}, nil
	}
	return entity.EnforceResult{Outcome: entity.Rejected, Account: *acc}, nil
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, userKey string, defaultCredits int) (*entity.Account, error) {
	if _, err := s.insertIfAbsent(ctx, userKey, defaultCredits, time.Now().UTC()); err != nil {
		return nil, err
	}
	return s.get(ctx, userKey)
}

func (s *SQLiteStore) SetMembership(ctx context.Context, userKey string, member bool, credits int, customerRef string) (*entity.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (user_key, credits, is_member, billing_customer_ref, created_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?)
		ON CONFLICT(user_key) DO UPDATE SET
			credits = excluded.credits,
			is_member = excluded.is_member,
			billing_customer_ref = COALESCE(excluded.billing_customer_ref, accounts.billing_customer_ref)
		RETURNING `+accountColumns,
		userKey, credits, boolToInt(member), customerRef, time.Now().UTC().Format(time.RFC3339))
	acc, err := scanAccount(userKey, row)
	if err != nil {
		return nil, fmt.Errorf("setting membership: %w", err)
	}
	return acc, nil
}

func (s *SQLiteStore) SetCustomerRef(ctx context.Context, userKey, customerRef string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET billing_customer_ref = ? WHERE user_key = ?", customerRef, userKey)
	if err != nil {
		return fmt.Errorf("setting customer ref: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("setting customer ref: %w", err)
	}
	if n == 0 {
		return entity.ErrAccountNotFound
	}
	return nil
}

func (s *SQLiteStore) FindByCustomerRef(ctx context.Context, customerRef string) (*entity.Account, error) {
	if customerRef == "" {
		return nil, entity.ErrAccountNotFound
	}
	var userKey string
	err := s.db.QueryRowContext(ctx,
		"SELECT user_key FROM accounts WHERE billing_customer_ref = ?", customerRef).Scan(&userKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding customer ref: %w", err)
	}
	return s.get(ctx, userKey)
}

func (s *SQLiteStore) insertIfAbsent(ctx context.Context, userKey string, credits int, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (user_key, credits, is_member, created_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(user_key) DO NOTHING
	`, userKey, credits, now.Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("creating account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("creating account: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) get(ctx context.Context, userKey string) (*entity.Account, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE user_key = ?", userKey)
	acc, err := scanAccount(userKey, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading account: %w", err)
	}
	return acc, nil
}

func scanAccount(userKey string, row *sql.Row) (*entity.Account, error) {
	var (
		acc     = entity.Account{UserKey: userKey}
		member  int
		created string
	)
	if err := row.Scan(&acc.Credits, &member, &acc.BillingCustomerRef, &created); err != nil {
		return nil, err
	}
	acc.IsMember = member == 1
	acc.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &acc, nil
}

// ==================== Conversations ====================

func (s *SQLiteStore) SaveConversation(ctx context.Context, conv entity.Conversation) error {
	turns, err := json.Marshal(conv.Turns)
	if err != nil {
		return fmt.Errorf("marshalling turns: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (owner, name, turns, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner, name) DO UPDATE SET
			turns = excluded.turns,
			updated_at = excluded.updated_at
	`, conv.Owner, conv.Name, string(turns), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadConversation(ctx context.Context, owner, name string) (*entity.Conversation, error) {
	var turns, updated string
	err := s.db.QueryRowContext(ctx,
		"SELECT turns, updated_at FROM conversations WHERE owner = ? AND name = ?", owner, name).
		Scan(&turns, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	conv := &entity.Conversation{Owner: owner, Name: name}
	if err := json.Unmarshal([]byte(turns), &conv.Turns); err != nil {
		return nil, fmt.Errorf("unmarshalling turns: %w", err)
	}
	conv.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return conv, nil
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, owner, name string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE owner = ? AND name = ?", owner, name)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, owner string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM conversations WHERE owner = ? ORDER BY name", owner)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning conversation name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return names, nil
}

// ==================== Reports ====================

func (s *SQLiteStore) SaveReport(ctx context.Context, report entity.QuoteSummary) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshalling report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (ticker, body, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at
	`, report.Ticker, string(body), report.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving report: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadReport(ctx context.Context, ticker string) (*entity.QuoteSummary, error) {
	var body string
	err := s.db.QueryRowContext(ctx, "SELECT body FROM reports WHERE ticker = ?", ticker).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading report: %w", err)
	}
	var report entity.QuoteSummary
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return nil, fmt.Errorf("unmarshalling report: %w", err)
	}
	return &report, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
