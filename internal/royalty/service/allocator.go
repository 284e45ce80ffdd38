package service

import (
	"encoding/json"
	"math"
	"math/big"

	"github.com/omnisonic/coda/internal/decimal"
	ledgerdomain "github.com/omnisonic/coda/internal/ledger/domain"
	royaltydomain "github.com/omnisonic/coda/internal/royalty/domain"
)

// occurredAtFormat matches the millisecond ISO form used in checkpoint leaves.
const occurredAtFormat = "2006-01-02T15:04:05.000Z"

// Allocate turns a usage event into a balanced double-entry journal: one
// debit for the full gross against the platform, one credit per split.
// Per-split rounding residue is added to the last split so that credits sum
// to the debit exactly. Identical input always yields identical output.
func Allocate(event royaltydomain.UsageEvent) ([]ledgerdomain.JournalEntry, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	if len(event.Splits) == 0 {
		return []ledgerdomain.JournalEntry{}, nil
	}

	totalShares := 0.0
	for _, split := range event.Splits {
		totalShares += split.PctShare
	}
	if totalShares <= 0 {
		return nil, royaltydomain.ErrInvalidSplitTotal
	}

	precision := decimal.DefaultPrecision

	// The debit is always the full gross, regardless of how the declared
	// shares sum.
	debitAmount, err := decimal.ComputeAmount(event.GrossAmount, decimal.BasisPoints, decimal.ShareBasisPoints, precision)
	if err != nil {
		return nil, err
	}
	debitScaled, err := decimal.ToScaled(debitAmount, precision)
	if err != nil {
		return nil, err
	}

	credits := make([]ledgerdomain.JournalEntry, 0, len(event.Splits))
	scaledCredits := make([]*big.Int, 0, len(event.Splits))
	distributed := new(big.Int)

	for _, split := range event.Splits {
		shareBps := math.Round(split.PctShare * 100)
		amount, err := decimal.ComputeAmount(event.GrossAmount, shareBps, decimal.ShareBasisPoints, precision)
		if err != nil {
			return nil, err
		}
		scaled, err := decimal.ToScaled(amount, precision)
		if err != nil {
			return nil, err
		}

		entry := ledgerdomain.JournalEntry{
			EntryID:       event.EventID + ":" + split.ID,
			EventID:       event.EventID,
			WorkID:        optional(event.WorkID),
			ContributorID: optional(split.ContributorID),
			Amount:        amount,
			Currency:      event.Currency,
			Direction:     ledgerdomain.DirectionCredit,
			Role:          optional(split.Role),
		}
		credits = append(credits, entry)
		scaledCredits = append(scaledCredits, scaled)
		distributed.Add(distributed, scaled)
	}

	if delta := new(big.Int).Sub(debitScaled, distributed); delta.Sign() != 0 {
		last := len(credits) - 1
		corrected := new(big.Int).Add(scaledCredits[last], delta)
		credits[last].Amount = decimal.FromScaled(corrected, precision)
	}

	meta, err := json.Marshal(map[string]string{
		"recordingId": event.RecordingID,
		"occurredAt":  event.OccurredAt.UTC().Format(occurredAtFormat),
	})
	if err != nil {
		return nil, err
	}

	debit := ledgerdomain.JournalEntry{
		EntryID:       event.EventID + ":debit",
		EventID:       event.EventID,
		WorkID:        optional(event.WorkID),
		ContributorID: optional(royaltydomain.PlatformContributor),
		Amount:        debitAmount,
		Currency:      event.Currency,
		Direction:     ledgerdomain.DirectionDebit,
		Meta:          meta,
	}

	journal := make([]ledgerdomain.JournalEntry, 0, len(credits)+1)
	journal = append(journal, debit)
	journal = append(journal, credits...)
	return journal, nil
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
