package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.etcd.io/bbolt"
)

const (
	bucketName           = "receipts"
	submissionBucketName = "submissions"
	byDateBucketName     = "by_date"
	byIDBucketName       = "by_id"
)

var errOwnerRequired = errors.New("owner is required")

// DB defines the interface for database operations.
// Every operation is scoped to an owner; records of other owners are invisible.
type DB interface {
	// SaveReceipt inserts or replaces a receipt
	SaveReceipt(ctx context.Context, receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(ctx context.Context, owner, id string) (*Receipt, error)

	// ListReceipts returns all receipts of the owner, newest first
	ListReceipts(ctx context.Context, owner string) ([]*Receipt, error)

	// ListReceiptsBetween returns receipts dated in [start, end), newest first
	ListReceiptsBetween(ctx context.Context, owner string, start, end time.Time) ([]*Receipt, error)

	// DeleteReceipt removes a receipt; deleting a missing receipt is not an error
	DeleteReceipt(ctx context.Context, owner, id string) error

	// GetSubmission retrieves a submission by ID
	GetSubmission(ctx context.Context, owner, id string) (*Submission, error)

	// ListSubmissions returns all submissions of the owner
	ListSubmissions(ctx context.Context, owner string) ([]*Submission, error)

	// SubmitReceipts saves a submission together with the receipts it marks.
	// Either everything is written or nothing is.
	SubmitReceipts(ctx context.Context, submission *Submission, receipts []*Receipt) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB.
//
// Layout: receipts/<owner>/by_date holds "YYYY-MM-DD\x00<id>" -> receipt JSON so a
// month is a single cursor range; receipts/<owner>/by_id maps id -> by_date key.
// submissions/<owner> holds id -> submission JSON.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(submissionBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func dateKey(date Date, id string) []byte {
	return []byte(date.Format(dateLayout) + "\x00" + id)
}

// receiptBuckets returns the owner's index buckets, creating them when writable is set.
// Both are nil when the owner has never stored anything.
func receiptBuckets(tx *bbolt.Tx, owner string, writable bool) (byDate, byID *bbolt.Bucket, err error) {
	if owner == "" {
		return nil, nil, errOwnerRequired
	}
	root := tx.Bucket([]byte(bucketName))
	if !writable {
		ownerBucket := root.Bucket([]byte(owner))
		if ownerBucket == nil {
			return nil, nil, nil
		}
		return ownerBucket.Bucket([]byte(byDateBucketName)), ownerBucket.Bucket([]byte(byIDBucketName)), nil
	}

	ownerBucket, err := root.CreateBucketIfNotExists([]byte(owner))
	if err != nil {
		return nil, nil, err
	}
	if byDate, err = ownerBucket.CreateBucketIfNotExists([]byte(byDateBucketName)); err != nil {
		return nil, nil, err
	}
	if byID, err = ownerBucket.CreateBucketIfNotExists([]byte(byIDBucketName)); err != nil {
		return nil, nil, err
	}
	return byDate, byID, nil
}

// SaveReceipt saves a receipt to the database
func (b *BoltDB) SaveReceipt(ctx context.Context, receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return putReceipt(tx, receipt)
	})
}

func putReceipt(tx *bbolt.Tx, receipt *Receipt) error {
	data, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}

	byDate, byID, err := receiptBuckets(tx, receipt.Owner, true)
	if err != nil {
		return err
	}

	key := dateKey(receipt.Date, receipt.ID)
	// A changed date moves the record to a new key
	if old := byID.Get([]byte(receipt.ID)); old != nil && !bytes.Equal(old, key) {
		if err := byDate.Delete(bytes.Clone(old)); err != nil {
			return err
		}
	}
	if err := byDate.Put(key, data); err != nil {
		return err
	}
	return byID.Put([]byte(receipt.ID), key)
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(ctx context.Context, owner, id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		byDate, byID, err := receiptBuckets(tx, owner, false)
		if err != nil {
			return err
		}
		if byID == nil {
			return fmt.Errorf("receipt %s: %w", id, ErrNotFound)
		}
		key := byID.Get([]byte(id))
		if key == nil {
			return fmt.Errorf("receipt %s: %w", id, ErrNotFound)
		}
		data := byDate.Get(key)
		if data == nil {
			return fmt.Errorf("receipt %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns all receipts
func (b *BoltDB) ListReceipts(ctx context.Context, owner string) ([]*Receipt, error) {
	return b.scanReceipts(owner, nil, nil)
}

// ListReceiptsBetween returns the receipts whose date is in [start, end)
func (b *BoltDB) ListReceiptsBetween(ctx context.Context, owner string, start, end time.Time) ([]*Receipt, error) {
	return b.scanReceipts(owner, []byte(start.Format(dateLayout)), []byte(end.Format(dateLayout)))
}

// scanReceipts walks by_date from start up to, but excluding, keys at or after end.
// A nil start or end leaves that side open.
func (b *BoltDB) scanReceipts(owner string, start, end []byte) ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		byDate, _, err := receiptBuckets(tx, owner, false)
		if err != nil {
			return err
		}
		if byDate == nil {
			return nil
		}

		c := byDate.Cursor()
		var k, v []byte
		if start != nil {
			k, v = c.Seek(start)
		} else {
			k, v = c.First()
		}
		for ; k != nil; k, v = c.Next() {
			if end != nil && bytes.Compare(k, end) >= 0 {
				break
			}
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			receipts = append(receipts, &receipt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(receipts)
	return receipts, nil
}

// DeleteReceipt removes a receipt from the database
func (b *BoltDB) DeleteReceipt(ctx context.Context, owner, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		byDate, byID, err := receiptBuckets(tx, owner, false)
		if err != nil || byID == nil {
			return err
		}
		key := byID.Get([]byte(id))
		if key == nil {
			return nil
		}
		if err := byDate.Delete(bytes.Clone(key)); err != nil {
			return err
		}
		return byID.Delete([]byte(id))
	})
}

// SubmitReceipts writes the submission and its receipts in a single bolt transaction
func (b *BoltDB) SubmitReceipts(ctx context.Context, submission *Submission, receipts []*Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := putSubmission(tx, submission); err != nil {
			return err
		}
		for _, receipt := range receipts {
			if receipt.Owner != submission.Owner {
				return fmt.Errorf("receipt %s: %w", receipt.ID, ErrNotFound)
			}
			if err := putReceipt(tx, receipt); err != nil {
				return fmt.Errorf("updating receipt %s: %w", receipt.ID, err)
			}
		}
		return nil
	})
}

func putSubmission(tx *bbolt.Tx, submission *Submission) error {
	if submission.Owner == "" {
		return errOwnerRequired
	}
	bucket, err := tx.Bucket([]byte(submissionBucketName)).CreateBucketIfNotExists([]byte(submission.Owner))
	if err != nil {
		return err
	}
	data, err := json.Marshal(submission)
	if err != nil {
		return fmt.Errorf("marshaling submission: %w", err)
	}
	return bucket.Put([]byte(submission.ID), data)
}

// GetSubmission retrieves a submission by ID
func (b *BoltDB) GetSubmission(ctx context.Context, owner, id string) (*Submission, error) {
	var submission *Submission
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(submissionBucketName)).Bucket([]byte(owner))
		if bucket == nil {
			return fmt.Errorf("submission %s: %w", id, ErrNotFound)
		}
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("submission %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &submission)
	})
	if err != nil {
		return nil, err
	}
	return submission, nil
}

// ListSubmissions returns all submissions
func (b *BoltDB) ListSubmissions(ctx context.Context, owner string) ([]*Submission, error) {
	submissions := make([]*Submission, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(submissionBucketName)).Bucket([]byte(owner))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var submission Submission
			if err := json.Unmarshal(v, &submission); err != nil {
				return fmt.Errorf("unmarshaling submission: %w", err)
			}
			submissions = append(submissions, &submission)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(submissions, func(a, b *Submission) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return submissions, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func sortNewestFirst(receipts []*Receipt) {
	slices.SortStableFunc(receipts, func(a, b *Receipt) int {
		if c := b.Date.Compare(a.Date.Time); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}
