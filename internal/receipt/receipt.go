package receipt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/receipt-tracker/internal/spending"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

var (
	// ErrNotFound is returned when a record does not exist for the calling owner
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when input is rejected before any write happens
	ErrValidation = errors.New("invalid input")
)

// Date is a calendar date without a time of day. It is encoded as YYYY-MM-DD.
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar date in UTC
func NewDate(t time.Time) Date {
	return Date{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// MarshalText implements encoding.TextMarshaler
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler; an empty string leaves the zero date
func (d *Date) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON overrides the promoted time.Time encoding
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON overrides the promoted time.Time decoding
func (d *Date) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return nil
	}
	unquoted, err := strconv.Unquote(s)
	if err != nil {
		return fmt.Errorf("%w: date must be a string", ErrValidation)
	}
	return d.UnmarshalText([]byte(unquoted))
}

// Receipt represents a single expense owned by one user
type Receipt struct {
	ID           string            `json:"id"`
	Owner        string            `json:"owner"`
	Date         Date              `json:"date"`
	Time         string            `json:"time,omitempty"` // HH:MM, display only
	Amount       int64             `json:"amount"`         // Amount in cents
	Category     spending.Category `json:"category"`
	Vendor       string            `json:"vendor,omitempty"`
	Location     string            `json:"location,omitempty"`
	Notes        string            `json:"notes,omitempty"`
	ImageRef     string            `json:"image_ref,omitempty"` // storage path or full URL
	ContentType  string            `json:"content_type,omitempty"`
	SubmissionID string            `json:"submission_id,omitempty"` // ID of the submission this receipt belongs to
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Expense projects the receipt onto the fields aggregation uses
func (r *Receipt) Expense() spending.Expense {
	return spending.Expense{Category: r.Category, Amount: r.Amount}
}

// Expenses projects a list of receipts for aggregation
func Expenses(receipts []*Receipt) []spending.Expense {
	entries := make([]spending.Expense, 0, len(receipts))
	for _, r := range receipts {
		entries = append(entries, r.Expense())
	}
	return entries
}

// Submission groups receipts submitted together for reimbursement
type Submission struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	ReceiptIDs  []string  `json:"receipt_ids"`
	TotalAmount int64     `json:"total_amount"` // Total amount in cents
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Draft is the result of scanning an image before a receipt is saved.
// The image is already stored; ExtractionError is set when the vision
// service failed and the fields must be entered manually.
type Draft struct {
	Vendor          string `json:"vendor"`
	Amount          int64  `json:"amount"` // cents
	Date            Date   `json:"date"`
	ImageRef        string `json:"image_ref"`
	ImageURL        string `json:"image_url,omitempty"`
	ContentType     string `json:"content_type"`
	ExtractionError string `json:"extraction_error,omitempty"`
}

// Upload is an image supplied by the client
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ReceiptInput holds the fields a client supplies when creating a receipt
type ReceiptInput struct {
	Date        Date              `json:"date"`
	Time        string            `json:"time"`
	Amount      int64             `json:"amount"`
	Category    spending.Category `json:"category"`
	Vendor      string            `json:"vendor"`
	Location    string            `json:"location"`
	Notes       string            `json:"notes"`
	ImageRef    string            `json:"image_ref"`
	ContentType string            `json:"content_type"`
}

func (in *ReceiptInput) validate() error {
	if in.Category == 0 {
		return fmt.Errorf("%w: category is required", ErrValidation)
	}
	if !in.Category.Valid() {
		return fmt.Errorf("%w: unknown category", ErrValidation)
	}
	if in.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", ErrValidation)
	}
	return validateTime(in.Time)
}

// ReceiptPatch holds the fields of an update; nil fields are left unchanged
type ReceiptPatch struct {
	Date     *Date              `json:"date"`
	Time     *string            `json:"time"`
	Amount   *int64             `json:"amount"`
	Category *spending.Category `json:"category"`
	Vendor   *string            `json:"vendor"`
	Location *string            `json:"location"`
	Notes    *string            `json:"notes"`
}

func (p *ReceiptPatch) validate() error {
	if p.Category != nil && !p.Category.Valid() {
		return fmt.Errorf("%w: unknown category", ErrValidation)
	}
	if p.Amount != nil && *p.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", ErrValidation)
	}
	if p.Date != nil && p.Date.IsZero() {
		return fmt.Errorf("%w: date must not be empty", ErrValidation)
	}
	if p.Time != nil {
		return validateTime(*p.Time)
	}
	return nil
}

func (p *ReceiptPatch) apply(r *Receipt) {
	if p.Date != nil {
		r.Date = *p.Date
	}
	if p.Time != nil {
		r.Time = *p.Time
	}
	if p.Amount != nil {
		r.Amount = *p.Amount
	}
	if p.Category != nil {
		r.Category = *p.Category
	}
	if p.Vendor != nil {
		r.Vendor = strings.TrimSpace(*p.Vendor)
	}
	if p.Location != nil {
		r.Location = strings.TrimSpace(*p.Location)
	}
	if p.Notes != nil {
		r.Notes = *p.Notes
	}
}

func validateTime(s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.Parse(timeLayout, s); err != nil {
		return fmt.Errorf("%w: time must be HH:MM", ErrValidation)
	}
	return nil
}
