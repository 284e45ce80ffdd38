package domain

import (
	"context"
	"errors"
	"time"

	ledgerdomain "github.com/omnisonic/coda/internal/ledger/domain"
)

// PlatformContributor is the reserved contributor id on the debit side of
// every allocation.
const PlatformContributor = "platform"

var (
	ErrInvalidEventID     = errors.New("royalty: event id is required")
	ErrInvalidCurrency    = errors.New("royalty: currency is required")
	ErrInvalidGrossAmount = errors.New("royalty: gross amount is required")
	ErrInvalidOccurredAt  = errors.New("royalty: occurred at is required")
	ErrInvalidSplitTotal  = errors.New("royalty: total share percentage must be positive")
)

// Split assigns a percentage of an event's gross to one contributor.
// PctShare is a percentage in [0, 100] and may carry fractional precision.
type Split struct {
	ID            string  `json:"id"`
	WorkID        string  `json:"workId"`
	ContributorID string  `json:"contributorId"`
	PctShare      float64 `json:"pctShare"`
	Role          string  `json:"role,omitempty"`
}

// UsageEvent is one gross revenue occurrence to be split. Splits keep their
// submitted order; the last split absorbs rounding dust.
type UsageEvent struct {
	EventID     string    `json:"eventId"`
	WorkID      string    `json:"workId"`
	RecordingID string    `json:"recordingId"`
	Currency    string    `json:"currency"`
	GrossAmount string    `json:"grossAmount"`
	OccurredAt  time.Time `json:"occurredAt"`
	Splits      []Split   `json:"splits"`
}

// Validate checks the fields every allocation needs.
func (e UsageEvent) Validate() error {
	if e.EventID == "" {
		return ErrInvalidEventID
	}
	if e.Currency == "" {
		return ErrInvalidCurrency
	}
	if e.GrossAmount == "" {
		return ErrInvalidGrossAmount
	}
	if e.OccurredAt.IsZero() {
		return ErrInvalidOccurredAt
	}
	return nil
}

// Service ingests usage events into the journal.
type Service interface {
	// Ingest allocates the event and appends the resulting journal entries
	// to the current cycle. Replays of the same event insert nothing new.
	Ingest(ctx context.Context, event UsageEvent) ([]ledgerdomain.JournalEntry, error)
}
