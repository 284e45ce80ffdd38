package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Direction represents debit or credit postings.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

var (
	ErrInvalidEntryID     = errors.New("ledger: entry id is required")
	ErrInvalidEventID     = errors.New("ledger: event id is required")
	ErrInvalidEntryAmount = errors.New("ledger: entry amount is required")
	ErrInvalidCurrency    = errors.New("ledger: currency is required")
	ErrInvalidDirection   = errors.New("ledger: direction must be debit or credit")
	ErrCurrencyMismatch   = errors.New("ledger: entry currency does not match the open cycle")
	ErrCheckpointNotFound = errors.New("ledger: cycle checkpoint not found")
	ErrCycleAlreadyClosed = errors.New("ledger: cycle checkpoint already closed")
	ErrNoOpenCycle        = errors.New("ledger: no open cycle checkpoint")
	ErrChecksumMismatch   = errors.New("ledger: checkpoint merkle root mismatch")
)

// JournalEntry is one append-only debit or credit line. EntryID is the
// deterministic business key; ID is the insertion key that fixes merkle order.
type JournalEntry struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	EntryID       string         `gorm:"type:text;not null;uniqueIndex:ux_journal_entries_entry_id" json:"entryId"`
	EventID       string         `gorm:"type:text;not null;index" json:"eventId"`
	CycleID       *snowflake.ID  `gorm:"index" json:"cycleId,omitempty"`
	WorkID        *string        `gorm:"type:text" json:"workId,omitempty"`
	ContributorID *string        `gorm:"type:text" json:"contributorId,omitempty"`
	Amount        string         `gorm:"type:text;not null" json:"amount"`
	Currency      string         `gorm:"type:text;not null" json:"currency"`
	Direction     Direction      `gorm:"type:text;not null" json:"direction"`
	Role          *string        `gorm:"type:text" json:"role,omitempty"`
	Description   string         `gorm:"type:text;not null;default:''" json:"description"`
	Meta          datatypes.JSON `gorm:"type:jsonb" json:"meta,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
}

// TableName sets the database table name.
func (JournalEntry) TableName() string { return "journal_entries" }

// CycleCheckpoint is one accounting cycle. It is created open, accumulates
// entries, and is sealed exactly once with a merkle root and total.
type CycleCheckpoint struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	CycleNumber int64        `gorm:"not null;uniqueIndex:ux_cycle_checkpoints_number" json:"cycleNumber"`
	Currency    string       `gorm:"type:text;not null" json:"currency"`
	TotalAmount string       `gorm:"type:text;not null;default:'0'" json:"totalAmount"`
	MerkleRoot  string       `gorm:"type:text;not null;default:''" json:"merkleRoot"`
	ClosedAt    *time.Time   `gorm:"index" json:"closedAt,omitempty"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`

	// ComputedMerkleRoot is derived on read, never stored.
	ComputedMerkleRoot string `gorm:"-" json:"computedMerkleRoot,omitempty"`

	LedgerEntries []JournalEntry `gorm:"foreignKey:CycleID" json:"ledgerEntries,omitempty"`
}

// TableName sets the database table name.
func (CycleCheckpoint) TableName() string { return "cycle_checkpoints" }

// Closed reports whether the checkpoint has been sealed.
func (c CycleCheckpoint) Closed() bool { return c.ClosedAt != nil }

// merkleLeaf fixes the canonical field order for checkpoint hashing. The
// order must never change or historical roots stop verifying.
type merkleLeaf struct {
	ID            string  `json:"id"`
	EventID       string  `json:"eventId"`
	WorkID        *string `json:"workId"`
	ContributorID *string `json:"contributorId"`
	Amount        string  `json:"amount"`
	Currency      string  `json:"currency"`
	Direction     string  `json:"direction"`
	Description   string  `json:"description"`
	CreatedAt     string  `json:"createdAt"`
}

// CanonicalLeaf serializes a journal entry for merkle hashing.
func CanonicalLeaf(entry JournalEntry) []byte {
	amount := entry.Amount
	if amount == "" {
		amount = "0"
	}
	leaf := merkleLeaf{
		ID:            entry.ID.String(),
		EventID:       entry.EventID,
		WorkID:        entry.WorkID,
		ContributorID: entry.ContributorID,
		Amount:        amount,
		Currency:      entry.Currency,
		Direction:     string(entry.Direction),
		Description:   entry.Description,
		CreatedAt:     entry.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
	raw, err := json.Marshal(leaf)
	if err != nil {
		// The leaf struct contains only strings; marshal cannot fail.
		panic(err)
	}
	return raw
}

// CanonicalLeaves serializes entries in the given order.
func CanonicalLeaves(entries []JournalEntry) [][]byte {
	leaves := make([][]byte, 0, len(entries))
	for _, entry := range entries {
		leaves = append(leaves, CanonicalLeaf(entry))
	}
	return leaves
}

// Service persists journal entries and manages cycle checkpoints.
type Service interface {
	// AppendEntries attaches entries to the current open cycle. Entries whose
	// entryId already exists are skipped; only newly inserted rows are returned.
	AppendEntries(ctx context.Context, entries []JournalEntry) ([]JournalEntry, error)

	// ListByCycle returns a cycle's entries in ascending insertion order.
	ListByCycle(ctx context.Context, cycleID snowflake.ID) ([]JournalEntry, error)

	// CurrentCycle returns the open checkpoint, creating one when absent.
	CurrentCycle(ctx context.Context) (CycleCheckpoint, error)

	// CloseCycle seals the open checkpoint with its merkle root and total.
	CloseCycle(ctx context.Context, closedAt time.Time) (CycleCheckpoint, error)

	// GetCheckpoint loads a checkpoint with its entries and recomputed root.
	GetCheckpoint(ctx context.Context, id snowflake.ID) (CycleCheckpoint, error)

	// GetCheckpointByNumber is GetCheckpoint keyed by cycle number.
	GetCheckpointByNumber(ctx context.Context, cycleNumber int64) (CycleCheckpoint, error)

	// ListCheckpoints pages checkpoints by descending cycle number.
	ListCheckpoints(ctx context.Context, limit, offset int) ([]CycleCheckpoint, error)

	// VerifyCheckpoint recomputes a closed checkpoint's root and returns
	// ErrChecksumMismatch when it disagrees with the stored root.
	VerifyCheckpoint(ctx context.Context, id snowflake.ID) (CycleCheckpoint, error)
}
