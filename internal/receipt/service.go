package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/receipt-tracker/internal/cache"
	"github.com/zombor/receipt-tracker/internal/report"
	"github.com/zombor/receipt-tracker/internal/scanning"
	"github.com/zombor/receipt-tracker/internal/spending"
)

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// IDGenerator generates unique IDs for receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// MonthlySummary is the aggregate for one month plus the comparison with the month before
type MonthlySummary struct {
	Period spending.Period `json:"period"`
	spending.Summary
	Highest       *spending.Category `json:"highest_category"`
	HighestAmount int64              `json:"highest_category_amount"`
	// PreviousTotal and Change are nil when the previous month could not be loaded
	PreviousTotal *int64   `json:"previous_total"`
	Change        *float64 `json:"previous_month_change"`
	ChangeDisplay string   `json:"previous_month_change_display"`
}

// Service handles receipt operations. Every method is scoped to the owner it is given.
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	summaries   cache.Cache[spending.Summary]
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with UUID ids and the system clock.
// A nil summaries cache disables caching.
func NewService(db DB, scanner scanning.Scanner, storage Storage, summaries cache.Cache[spending.Summary]) *Service {
	return NewServiceWithDeps(db, scanner, storage, summaries, uuidGenerator{}, systemClock{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, summaries cache.Cache[spending.Summary], idGen IDGenerator, timeSrc TimeSource) *Service {
	if summaries == nil {
		summaries = cache.Nop[spending.Summary]{}
	}
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		summaries:   summaries,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(repeatedSpaces.ReplaceAllString(base, " "))
	base = strings.ReplaceAll(base, " ", "_")

	const maxLen = 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "receipt"
	}
	if len(ext) > 10 || unsafeFilenameChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	return base + ext
}

// ownerDir is the storage directory holding every image of owner
func ownerDir(owner string) string {
	return url.PathEscape(owner)
}

func imagePath(owner, id, filename string) string {
	return ownerDir(owner) + "/" + id + "_" + sanitizeFilename(filename)
}

func ownsPath(owner, path string) bool {
	return strings.HasPrefix(path, ownerDir(owner)+"/")
}

// maxScannedCents caps amounts read from a scanner at one billion dollars
const maxScannedCents = 100_000_000_000

// dollarsToCents rounds a dollar amount half away from zero. Negative and NaN
// amounts become 0; anything above maxScannedCents is clamped to it.
func dollarsToCents(dollars float64) int64 {
	switch {
	case math.IsNaN(dollars) || dollars <= 0:
		return 0
	case math.IsInf(dollars, 1):
		return maxScannedCents
	}
	cents := decimal.NewFromFloat(dollars).Shift(2).Round(0)
	if cents.GreaterThan(decimal.NewFromInt(maxScannedCents)) {
		return maxScannedCents
	}
	return cents.IntPart()
}

func summaryKey(owner string, period spending.Period) string {
	return "summary:" + owner + ":" + period.String()
}

// invalidate drops the cached summaries of the months the given dates fall in
func (s *Service) invalidate(ctx context.Context, owner string, dates ...Date) {
	keys := make([]string, 0, len(dates))
	for _, d := range dates {
		if !d.IsZero() {
			keys = append(keys, summaryKey(owner, spending.PeriodOf(d.Time)))
		}
	}
	s.summaries.Delete(ctx, keys...)
}

// storagePath maps an image reference to a path in our storage, if it is one
func (s *Service) storagePath(ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	if isExternalURL(ref) {
		return s.storage.PathFromURL(ref)
	}
	return ref, true
}

// deleteImage removes an image the owner stored. Failures are logged, not returned.
func (s *Service) deleteImage(ctx context.Context, owner, ref string) {
	path, ok := s.storagePath(ref)
	if !ok || !ownsPath(owner, path) {
		return
	}
	if err := s.storage.Delete(ctx, path); err != nil {
		slog.WarnContext(ctx, "Failed to delete image", "owner", owner, "path", path, "error", err)
	}
}

// ScanReceipt stores an uploaded image and extracts draft fields from it.
// The image is kept when extraction fails; the draft then carries ExtractionError
// and the caller falls back to manual entry.
func (s *Service) ScanReceipt(ctx context.Context, owner string, upload Upload) (*Draft, error) {
	if len(upload.Data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrValidation)
	}

	path := imagePath(owner, s.idGenerator.Generate(), upload.Filename)
	if err := s.storage.Save(ctx, path, upload.Data, upload.ContentType); err != nil {
		return nil, fmt.Errorf("saving image: %w", err)
	}

	draft := &Draft{
		ImageRef:    path,
		ImageURL:    s.storage.URL(path),
		ContentType: upload.ContentType,
	}

	data, err := s.scanner.ScanReceipt(ctx, upload.Data, upload.ContentType)
	if err != nil {
		err = fmt.Errorf("%w: %w", scanning.ErrExtraction, err)
		slog.WarnContext(ctx, "Failed to scan receipt",
			"owner", owner,
			"filename", upload.Filename,
			"content_type", upload.ContentType,
			"file_size", len(upload.Data),
			"error", err,
		)
		draft.ExtractionError = err.Error()
		return draft, nil
	}

	draft.Vendor = data.Vendor
	draft.Amount = dollarsToCents(data.Amount)
	if data.Date != "" {
		if d, err := ParseDate(data.Date); err == nil {
			draft.Date = d
		}
	}
	return draft, nil
}

// CreateReceipt validates and saves a new receipt. image, when given, replaces
// input.ImageRef. A referenced image must be a URL or live under the owner's storage path.
func (s *Service) CreateReceipt(ctx context.Context, owner string, input ReceiptInput, image *Upload) (*Receipt, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	ref := strings.TrimSpace(input.ImageRef)
	if image == nil && ref != "" {
		if path, ok := s.storagePath(ref); ok {
			if !ownsPath(owner, path) {
				return nil, fmt.Errorf("%w: image does not belong to the caller", ErrValidation)
			}
			ref = path
		}
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	receipt := &Receipt{
		ID:          id,
		Owner:       owner,
		Date:        input.Date,
		Time:        input.Time,
		Amount:      input.Amount,
		Category:    input.Category,
		Vendor:      strings.TrimSpace(input.Vendor),
		Location:    strings.TrimSpace(input.Location),
		Notes:       input.Notes,
		ImageRef:    ref,
		ContentType: input.ContentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if receipt.Date.IsZero() {
		receipt.Date = NewDate(now)
	}
	if receipt.Time == "" {
		receipt.Time = now.Format(timeLayout)
	}

	if image != nil {
		path := imagePath(owner, id, image.Filename)
		if err := s.storage.Save(ctx, path, image.Data, image.ContentType); err != nil {
			return nil, fmt.Errorf("saving image: %w", err)
		}
		receipt.ImageRef = path
		receipt.ContentType = image.ContentType
	}

	if err := s.db.SaveReceipt(ctx, receipt); err != nil {
		// Nothing references the image now
		s.deleteImage(ctx, owner, receipt.ImageRef)
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	s.invalidate(ctx, owner, receipt.Date)
	slog.InfoContext(ctx, "Receipt saved", "owner", owner, "id", receipt.ID, "amount", receipt.Amount, "category", receipt.Category)
	return receipt, nil
}

// UpdateReceipt applies a partial update and optionally replaces the image
func (s *Service) UpdateReceipt(ctx context.Context, owner, id string, patch ReceiptPatch, image *Upload) (*Receipt, error) {
	if err := patch.validate(); err != nil {
		return nil, err
	}

	existing, err := s.db.GetReceipt(ctx, owner, id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}

	updated := *existing
	patch.apply(&updated)
	updated.UpdatedAt = s.timeSource.Now()

	if image != nil {
		path := imagePath(owner, s.idGenerator.Generate(), image.Filename)
		if err := s.storage.Save(ctx, path, image.Data, image.ContentType); err != nil {
			return nil, fmt.Errorf("saving image: %w", err)
		}
		updated.ImageRef = path
		updated.ContentType = image.ContentType
	}

	if err := s.db.SaveReceipt(ctx, &updated); err != nil {
		if image != nil {
			s.deleteImage(ctx, owner, updated.ImageRef)
		}
		return nil, fmt.Errorf("updating receipt: %w", err)
	}

	if image != nil && existing.ImageRef != "" && existing.ImageRef != updated.ImageRef {
		s.deleteImage(ctx, owner, existing.ImageRef)
	}

	s.invalidate(ctx, owner, existing.Date, updated.Date)
	return &updated, nil
}

// DeleteReceipt removes a receipt and then its stored image
func (s *Service) DeleteReceipt(ctx context.Context, owner, id string) error {
	receipt, err := s.db.GetReceipt(ctx, owner, id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if err := s.db.DeleteReceipt(ctx, owner, id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}

	s.deleteImage(ctx, owner, receipt.ImageRef)
	s.invalidate(ctx, owner, receipt.Date)
	return nil
}

// DeleteReceipts removes several receipts. IDs that do not exist are skipped;
// other failures are collected and returned together.
func (s *Service) DeleteReceipts(ctx context.Context, owner string, ids []string) (int, error) {
	var (
		deleted int
		errs    []error
	)
	for _, id := range ids {
		err := s.DeleteReceipt(ctx, owner, id)
		switch {
		case err == nil:
			deleted++
		case errors.Is(err, ErrNotFound):
		default:
			errs = append(errs, fmt.Errorf("receipt %s: %w", id, err))
		}
	}
	return deleted, errors.Join(errs...)
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(ctx context.Context, owner, id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(ctx, owner, id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns all receipts of the owner, newest first
func (s *Service) ListReceipts(ctx context.Context, owner string) ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// ListReceiptsByMonth returns the receipts dated inside period, newest first
func (s *Service) ListReceiptsByMonth(ctx context.Context, owner string, period spending.Period) ([]*Receipt, error) {
	start, end := period.Range()
	receipts, err := s.db.ListReceiptsBetween(ctx, owner, start, end)
	if err != nil {
		return nil, fmt.Errorf("listing receipts for %s: %w", period, err)
	}

	inPeriod := receipts[:0]
	for _, r := range receipts {
		if !period.Contains(r.Date.Time) {
			slog.WarnContext(ctx, "Dropping receipt outside requested month", "owner", owner, "id", r.ID, "date", r.Date.String(), "period", period.String())
			continue
		}
		inPeriod = append(inPeriod, r)
	}
	return inPeriod, nil
}

// ResolveImageURL returns a loadable URL for an image reference. Full URLs pass through.
func (s *Service) ResolveImageURL(ref string) string {
	if ref == "" || isExternalURL(ref) {
		return ref
	}
	return s.storage.URL(ref)
}

// ReceiptImage returns the stored image of a receipt. When the image lives
// outside our storage, redirect holds its URL and data is nil.
func (s *Service) ReceiptImage(ctx context.Context, owner, id string) (data []byte, contentType, redirect string, err error) {
	receipt, err := s.db.GetReceipt(ctx, owner, id)
	if err != nil {
		return nil, "", "", fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.ImageRef == "" {
		return nil, "", "", fmt.Errorf("receipt %s has no image: %w", id, ErrNotFound)
	}

	path, ok := s.storagePath(receipt.ImageRef)
	if !ok {
		return nil, "", receipt.ImageRef, nil
	}
	data, err = s.storage.Get(ctx, path)
	if err != nil {
		return nil, "", "", fmt.Errorf("getting receipt image: %w", err)
	}
	return data, receipt.ContentType, "", nil
}

// StoredFile returns a file from storage if it belongs to owner
func (s *Service) StoredFile(ctx context.Context, owner, path string) ([]byte, error) {
	if !ownsPath(owner, path) {
		return nil, fmt.Errorf("file %s: %w", path, ErrNotFound)
	}
	data, err := s.storage.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("getting file: %w", err)
	}
	return data, nil
}

// monthSummary aggregates one month, going through the summary cache
func (s *Service) monthSummary(ctx context.Context, owner string, period spending.Period) (spending.Summary, error) {
	key := summaryKey(owner, period)
	if summary, ok := s.summaries.Get(ctx, key); ok {
		return summary, nil
	}

	receipts, err := s.ListReceiptsByMonth(ctx, owner, period)
	if err != nil {
		return spending.Summary{}, err
	}
	summary := spending.Aggregate(Expenses(receipts))
	s.summaries.Set(ctx, key, summary)
	return summary, nil
}

// MonthlySummary aggregates period and compares it with the previous month.
// Both months are loaded concurrently; only a failure of the requested month is an error.
func (s *Service) MonthlySummary(ctx context.Context, owner string, period spending.Period) (*MonthlySummary, error) {
	var (
		current, previous spending.Summary
		previousErr       error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		current, err = s.monthSummary(gctx, owner, period)
		return err
	})
	g.Go(func() error {
		previous, previousErr = s.monthSummary(gctx, owner, period.Previous())
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("summarizing %s: %w", period, err)
	}

	result := &MonthlySummary{
		Period:  period,
		Summary: current,
	}
	if c, ok := current.Highest(); ok {
		result.Highest = &c
		result.HighestAmount = current.Amount(c)
	}
	if previousErr != nil {
		slog.WarnContext(ctx, "Previous month unavailable for comparison",
			"owner", owner, "period", period.Previous().String(), "error", previousErr)
	} else {
		total := previous.TotalSpent
		change := spending.Change(current.TotalSpent, total)
		result.PreviousTotal = &total
		result.Change = &change
	}
	result.ChangeDisplay = spending.FormatChange(result.Change)
	return result, nil
}

// changeDisplay formats the change against an optional previous total; nil yields "N/A"
func changeDisplay(current int64, previous *int64) string {
	if previous == nil {
		return spending.FormatChange(nil)
	}
	change := spending.Change(current, *previous)
	return spending.FormatChange(&change)
}

// CreateSubmission groups receipts for reimbursement. A receipt can be in at most one submission.
func (s *Service) CreateSubmission(ctx context.Context, owner string, receiptIDs []string) (*Submission, error) {
	ids := make([]string, 0, len(receiptIDs))
	seen := make(map[string]bool, len(receiptIDs))
	for _, id := range receiptIDs {
		if id = strings.TrimSpace(id); id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one receipt is required", ErrValidation)
	}

	receipts := make([]*Receipt, 0, len(ids))
	var total int64
	for _, id := range ids {
		receipt, err := s.db.GetReceipt(ctx, owner, id)
		if err != nil {
			return nil, fmt.Errorf("getting receipt %s: %w", id, err)
		}
		if receipt.SubmissionID != "" {
			return nil, fmt.Errorf("%w: receipt %s is already submitted", ErrValidation, id)
		}
		total += receipt.Amount
		receipts = append(receipts, receipt)
	}

	now := s.timeSource.Now()
	submission := &Submission{
		ID:          s.idGenerator.Generate(),
		Owner:       owner,
		ReceiptIDs:  ids,
		TotalAmount: total,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	marked := make([]*Receipt, 0, len(receipts))
	for _, receipt := range receipts {
		updated := *receipt
		updated.SubmissionID = submission.ID
		updated.UpdatedAt = now
		marked = append(marked, &updated)
	}
	if err := s.db.SubmitReceipts(ctx, submission, marked); err != nil {
		return nil, fmt.Errorf("saving submission: %w", err)
	}

	slog.InfoContext(ctx, "Submission created", "owner", owner, "id", submission.ID, "receipts", len(ids), "total", total)
	return submission, nil
}

// GetSubmission retrieves a submission by ID
func (s *Service) GetSubmission(ctx context.Context, owner, id string) (*Submission, error) {
	submission, err := s.db.GetSubmission(ctx, owner, id)
	if err != nil {
		return nil, fmt.Errorf("getting submission: %w", err)
	}
	return submission, nil
}

// GetSubmissionWithReceipts retrieves a submission and the receipts still present in it
func (s *Service) GetSubmissionWithReceipts(ctx context.Context, owner, id string) (*Submission, []*Receipt, error) {
	submission, err := s.GetSubmission(ctx, owner, id)
	if err != nil {
		return nil, nil, err
	}

	receipts := make([]*Receipt, 0, len(submission.ReceiptIDs))
	for _, receiptID := range submission.ReceiptIDs {
		receipt, err := s.db.GetReceipt(ctx, owner, receiptID)
		if errors.Is(err, ErrNotFound) {
			slog.WarnContext(ctx, "Submitted receipt no longer exists", "submission", id, "receipt", receiptID)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("getting receipt %s: %w", receiptID, err)
		}
		receipts = append(receipts, receipt)
	}

	// Receipts may have been edited or deleted since submission
	current := *submission
	current.TotalAmount = 0
	for _, receipt := range receipts {
		current.TotalAmount += receipt.Amount
	}
	return &current, receipts, nil
}

// ListSubmissions returns all submissions of the owner, newest first
func (s *Service) ListSubmissions(ctx context.Context, owner string) ([]*Submission, error) {
	submissions, err := s.db.ListSubmissions(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}
	return submissions, nil
}

func reportLines(receipts []*Receipt) []report.Line {
	lines := make([]report.Line, 0, len(receipts))
	for _, r := range receipts {
		lines = append(lines, report.Line{
			Date:     r.Date.String(),
			Time:     r.Time,
			Vendor:   r.Vendor,
			Location: r.Location,
			Category: r.Category,
			Amount:   r.Amount,
			Notes:    r.Notes,
		})
	}
	return lines
}

// MonthlyReport gathers the data for a month's printable report.
// Totals are aggregated from the listed receipts so they always agree with the lines.
func (s *Service) MonthlyReport(ctx context.Context, owner string, period spending.Period) (report.Data, error) {
	receipts, err := s.ListReceiptsByMonth(ctx, owner, period)
	if err != nil {
		return report.Data{}, err
	}
	summary := spending.Aggregate(Expenses(receipts))

	var previous *int64
	if prev, err := s.monthSummary(ctx, owner, period.Previous()); err != nil {
		slog.WarnContext(ctx, "Previous month unavailable for report", "owner", owner, "period", period.Previous().String(), "error", err)
	} else {
		previous = &prev.TotalSpent
	}

	return report.Data{
		Title:       "Spending Report",
		Owner:       owner,
		Period:      period.Label(),
		Summary:     summary,
		Change:      changeDisplay(summary.TotalSpent, previous),
		Lines:       reportLines(receipts),
		GeneratedAt: s.timeSource.Now(),
	}, nil
}

// SubmissionReport gathers the data for a submission's printable report
func (s *Service) SubmissionReport(ctx context.Context, owner, id string) (report.Data, error) {
	submission, receipts, err := s.GetSubmissionWithReceipts(ctx, owner, id)
	if err != nil {
		return report.Data{}, err
	}

	return report.Data{
		Title:       "Expense Submission " + submission.CreatedAt.Format("2006-01-02"),
		Owner:       owner,
		Summary:     spending.Aggregate(Expenses(receipts)),
		Lines:       reportLines(receipts),
		GeneratedAt: s.timeSource.Now(),
	}, nil
}
