package receipt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/zombor/receipt-tracker/internal/spending"
)

// Supported SQL drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Timestamps are stored as fixed-width UTC text so they sort and compare the same in every dialect
const sqlTimeLayout = "2006-01-02T15:04:05.000000000Z"

var receiptColumns = []string{
	"id", "owner", "date", "time", "amount", "category", "vendor", "location",
	"notes", "image_ref", "content_type", "submission_id", "created_at", "updated_at",
}

var submissionColumns = []string{"id", "owner", "receipt_ids", "total_amount", "created_at", "updated_at"}

func sqlDriverName(driver string) string {
	if driver == DriverPostgres {
		return "pgx"
	}
	return driver
}

// SQLDB implements the DB interface on top of database/sql.
// SQLite is served by modernc.org/sqlite and Postgres by pgx.
type SQLDB struct {
	db *sql.DB
	sb squirrel.StatementBuilderType
}

// NewSQLDB opens the database, runs pending migrations and returns the store
func NewSQLDB(driver, dsn string) (*SQLDB, error) {
	var placeholder squirrel.PlaceholderFormat = squirrel.Question
	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
	case DriverPostgres:
		placeholder = squirrel.Dollar
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(sqlDriverName(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(driver, dsn); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLDB{
		db: db,
		sb: squirrel.StatementBuilder.PlaceholderFormat(placeholder),
	}, nil
}

func formatSQLTime(t time.Time) string {
	return t.UTC().Format(sqlTimeLayout)
}

func parseSQLTime(s string) (time.Time, error) {
	return time.Parse(sqlTimeLayout, s)
}

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveReceipt inserts a receipt, or replaces it when the same owner already has one with that ID
func (s *SQLDB) SaveReceipt(ctx context.Context, receipt *Receipt) error {
	return s.saveReceipt(ctx, s.db, receipt)
}

func (s *SQLDB) saveReceipt(ctx context.Context, ex execer, receipt *Receipt) error {
	if receipt.Owner == "" {
		return errOwnerRequired
	}
	category, err := receipt.Category.MarshalText()
	if err != nil {
		return fmt.Errorf("saving receipt %s: %w", receipt.ID, err)
	}

	query, args, err := s.sb.Insert("receipts").
		Columns(receiptColumns...).
		Values(
			receipt.ID, receipt.Owner, receipt.Date.String(), receipt.Time, receipt.Amount, string(category),
			receipt.Vendor, receipt.Location, receipt.Notes, receipt.ImageRef, receipt.ContentType,
			receipt.SubmissionID, formatSQLTime(receipt.CreatedAt), formatSQLTime(receipt.UpdatedAt),
		).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			date = excluded.date, time = excluded.time, amount = excluded.amount,
			category = excluded.category, vendor = excluded.vendor, location = excluded.location,
			notes = excluded.notes, image_ref = excluded.image_ref, content_type = excluded.content_type,
			submission_id = excluded.submission_id, updated_at = excluded.updated_at
			WHERE receipts.owner = excluded.owner`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}

	result, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("saving receipt %s: %w", receipt.ID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		// The ID exists under another owner
		return fmt.Errorf("receipt %s: %w", receipt.ID, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*Receipt, error) {
	var (
		r                    Receipt
		date, category       string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&r.ID, &r.Owner, &date, &r.Time, &r.Amount, &category, &r.Vendor, &r.Location,
		&r.Notes, &r.ImageRef, &r.ContentType, &r.SubmissionID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if r.Date, err = ParseDate(date); err != nil {
		return nil, fmt.Errorf("receipt %s: stored date %q: %w", r.ID, date, err)
	}
	if r.Category, err = spending.ParseCategory(category); err != nil {
		return nil, fmt.Errorf("receipt %s: %w", r.ID, err)
	}
	if r.CreatedAt, err = parseSQLTime(createdAt); err != nil {
		return nil, fmt.Errorf("receipt %s: created_at: %w", r.ID, err)
	}
	if r.UpdatedAt, err = parseSQLTime(updatedAt); err != nil {
		return nil, fmt.Errorf("receipt %s: updated_at: %w", r.ID, err)
	}
	return &r, nil
}

// GetReceipt retrieves a receipt by ID
func (s *SQLDB) GetReceipt(ctx context.Context, owner, id string) (*Receipt, error) {
	query, args, err := s.sb.Select(receiptColumns...).
		From("receipts").
		Where(squirrel.Eq{"owner": owner, "id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}

	receipt, err := scanReceipt(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("receipt %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting receipt %s: %w", id, err)
	}
	return receipt, nil
}

// ListReceipts returns all receipts
func (s *SQLDB) ListReceipts(ctx context.Context, owner string) ([]*Receipt, error) {
	return s.queryReceipts(ctx, squirrel.Eq{"owner": owner})
}

// ListReceiptsBetween returns the receipts whose date is in [start, end)
func (s *SQLDB) ListReceiptsBetween(ctx context.Context, owner string, start, end time.Time) ([]*Receipt, error) {
	return s.queryReceipts(ctx, squirrel.And{
		squirrel.Eq{"owner": owner},
		squirrel.GtOrEq{"date": start.Format(dateLayout)},
		squirrel.Lt{"date": end.Format(dateLayout)},
	})
}

func (s *SQLDB) queryReceipts(ctx context.Context, where squirrel.Sqlizer) ([]*Receipt, error) {
	query, args, err := s.sb.Select(receiptColumns...).
		From("receipts").
		Where(where).
		OrderBy("date DESC", "created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying receipts: %w", err)
	}
	defer rows.Close()

	receipts := make([]*Receipt, 0)
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning receipt: %w", err)
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating receipts: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt from the database
func (s *SQLDB) DeleteReceipt(ctx context.Context, owner, id string) error {
	query, args, err := s.sb.Delete("receipts").
		Where(squirrel.Eq{"owner": owner, "id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting receipt %s: %w", id, err)
	}
	return nil
}

// SubmitReceipts writes the submission and its receipts in one transaction
func (s *SQLDB) SubmitReceipts(ctx context.Context, submission *Submission, receipts []*Receipt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.saveSubmission(ctx, tx, submission); err != nil {
		return err
	}
	for _, receipt := range receipts {
		if receipt.Owner != submission.Owner {
			return fmt.Errorf("receipt %s: %w", receipt.ID, ErrNotFound)
		}
		if err := s.saveReceipt(ctx, tx, receipt); err != nil {
			return fmt.Errorf("updating receipt %s: %w", receipt.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing submission %s: %w", submission.ID, err)
	}
	return nil
}

func (s *SQLDB) saveSubmission(ctx context.Context, tx *sql.Tx, submission *Submission) error {
	if submission.Owner == "" {
		return errOwnerRequired
	}
	ids, err := json.Marshal(submission.ReceiptIDs)
	if err != nil {
		return fmt.Errorf("marshaling receipt ids: %w", err)
	}

	query, args, err := s.sb.Insert("submissions").
		Columns(submissionColumns...).
		Values(
			submission.ID, submission.Owner, string(ids), submission.TotalAmount,
			formatSQLTime(submission.CreatedAt), formatSQLTime(submission.UpdatedAt),
		).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			receipt_ids = excluded.receipt_ids, total_amount = excluded.total_amount,
			updated_at = excluded.updated_at
			WHERE submissions.owner = excluded.owner`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("saving submission %s: %w", submission.ID, err)
	}
	return nil
}

func scanSubmission(row rowScanner) (*Submission, error) {
	var (
		sub                  Submission
		ids                  string
		createdAt, updatedAt string
	)
	if err := row.Scan(&sub.ID, &sub.Owner, &ids, &sub.TotalAmount, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ids), &sub.ReceiptIDs); err != nil {
		return nil, fmt.Errorf("submission %s: receipt ids: %w", sub.ID, err)
	}
	var err error
	if sub.CreatedAt, err = parseSQLTime(createdAt); err != nil {
		return nil, fmt.Errorf("submission %s: created_at: %w", sub.ID, err)
	}
	if sub.UpdatedAt, err = parseSQLTime(updatedAt); err != nil {
		return nil, fmt.Errorf("submission %s: updated_at: %w", sub.ID, err)
	}
	return &sub, nil
}

// GetSubmission retrieves a submission by ID
func (s *SQLDB) GetSubmission(ctx context.Context, owner, id string) (*Submission, error) {
	query, args, err := s.sb.Select(submissionColumns...).
		From("submissions").
		Where(squirrel.Eq{"owner": owner, "id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}

	submission, err := scanSubmission(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting submission %s: %w", id, err)
	}
	return submission, nil
}

// ListSubmissions returns all submissions
func (s *SQLDB) ListSubmissions(ctx context.Context, owner string) ([]*Submission, error) {
	query, args, err := s.sb.Select(submissionColumns...).
		From("submissions").
		Where(squirrel.Eq{"owner": owner}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying submissions: %w", err)
	}
	defer rows.Close()

	submissions := make([]*Submission, 0)
	for rows.Next() {
		submission, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning submission: %w", err)
		}
		submissions = append(submissions, submission)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating submissions: %w", err)
	}
	return submissions, nil
}

// Close closes the database connection
func (s *SQLDB) Close() error {
	return s.db.Close()
}
