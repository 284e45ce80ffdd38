package service

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/omnisonic/coda/internal/clock"
	"github.com/omnisonic/coda/internal/decimal"
	"github.com/omnisonic/coda/internal/events"
	ledgerdomain "github.com/omnisonic/coda/internal/ledger/domain"
	"github.com/omnisonic/coda/internal/merkle"
	obsmetrics "github.com/omnisonic/coda/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Bus        events.Bus          `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	bus        events.Bus
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		bus:        p.Bus,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) AppendEntries(ctx context.Context, entries []ledgerdomain.JournalEntry) ([]ledgerdomain.JournalEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	currency := entries[0].Currency
	for _, entry := range entries {
		if err := validateEntry(entry); err != nil {
			return nil, err
		}
		if entry.Currency != currency {
			return nil, ledgerdomain.ErrCurrencyMismatch
		}
	}

	var inserted []ledgerdomain.JournalEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cycle, err := s.currentCycleTx(tx)
		if err != nil {
			return err
		}

		// A cycle holds exactly one currency, stamped by its first entries.
		if cycle.Currency == "" {
			if err := tx.Model(&ledgerdomain.CycleCheckpoint{}).
				Where("id = ?", cycle.ID).
				Update("currency", currency).Error; err != nil {
				return err
			}
		} else if cycle.Currency != currency {
			return ledgerdomain.ErrCurrencyMismatch
		}

		now := s.clock.Now()
		for _, entry := range entries {
			entry.ID = s.genID.Generate()
			entry.CycleID = &cycle.ID
			entry.CreatedAt = now

			result := tx.Exec(
				`INSERT INTO journal_entries (
					id, entry_id, event_id, cycle_id, work_id, contributor_id,
					amount, currency, direction, role, description, meta, created_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (entry_id) DO NOTHING`,
				entry.ID,
				entry.EntryID,
				entry.EventID,
				entry.CycleID,
				entry.WorkID,
				entry.ContributorID,
				entry.Amount,
				entry.Currency,
				string(entry.Direction),
				entry.Role,
				entry.Description,
				entry.Meta,
				now,
			)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				continue
			}
			inserted = append(inserted, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(inserted) > 0 && s.obsMetrics != nil {
		credits, debits := 0, 0
		for _, entry := range inserted {
			if entry.Direction == ledgerdomain.DirectionDebit {
				debits++
			} else {
				credits++
			}
		}
		s.obsMetrics.RecordLedgerEntries(ctx, string(ledgerdomain.DirectionCredit), credits)
		s.obsMetrics.RecordLedgerEntries(ctx, string(ledgerdomain.DirectionDebit), debits)
	}
	return inserted, nil
}

func (s *Service) ListByCycle(ctx context.Context, cycleID snowflake.ID) ([]ledgerdomain.JournalEntry, error) {
	var entries []ledgerdomain.JournalEntry
	err := s.db.WithContext(ctx).
		Where("cycle_id = ?", cycleID).
		Order("id asc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Service) CurrentCycle(ctx context.Context) (ledgerdomain.CycleCheckpoint, error) {
	var cycle ledgerdomain.CycleCheckpoint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		open, err := s.currentCycleTx(tx)
		if err != nil {
			return err
		}
		cycle = open
		return nil
	})
	return cycle, err
}

// currentCycleTx fetches the open checkpoint or starts the next cycle.
func (s *Service) currentCycleTx(tx *gorm.DB) (ledgerdomain.CycleCheckpoint, error) {
	var cycle ledgerdomain.CycleCheckpoint
	err := tx.Where("closed_at IS NULL").
		Order("cycle_number desc").
		First(&cycle).Error
	if err == nil {
		return cycle, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return ledgerdomain.CycleCheckpoint{}, err
	}

	var lastNumber int64
	row := tx.Model(&ledgerdomain.CycleCheckpoint{}).
		Select("COALESCE(MAX(cycle_number), 0)").
		Row()
	if err := row.Scan(&lastNumber); err != nil {
		return ledgerdomain.CycleCheckpoint{}, err
	}

	cycle = ledgerdomain.CycleCheckpoint{
		ID:          s.genID.Generate(),
		CycleNumber: lastNumber + 1,
		Currency:    "",
		TotalAmount: "0",
		MerkleRoot:  "",
		CreatedAt:   s.clock.Now(),
	}
	if err := tx.Create(&cycle).Error; err != nil {
		return ledgerdomain.CycleCheckpoint{}, err
	}
	return cycle, nil
}

func (s *Service) CloseCycle(ctx context.Context, closedAt time.Time) (ledgerdomain.CycleCheckpoint, error) {
	var closed ledgerdomain.CycleCheckpoint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cycle ledgerdomain.CycleCheckpoint
		err := tx.Where("closed_at IS NULL").
			Order("cycle_number desc").
			First(&cycle).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledgerdomain.ErrNoOpenCycle
		}
		if err != nil {
			return err
		}

		var entries []ledgerdomain.JournalEntry
		if err := tx.Where("cycle_id = ?", cycle.ID).
			Order("id asc").
			Find(&entries).Error; err != nil {
			return err
		}

		total, err := sumDebits(entries)
		if err != nil {
			return err
		}

		when := closedAt.UTC()
		cycle.MerkleRoot = merkle.Root(ledgerdomain.CanonicalLeaves(entries))
		cycle.TotalAmount = total
		cycle.ClosedAt = &when

		if err := tx.Model(&ledgerdomain.CycleCheckpoint{}).
			Where("id = ? AND closed_at IS NULL", cycle.ID).
			Updates(map[string]any{
				"merkle_root":  cycle.MerkleRoot,
				"total_amount": cycle.TotalAmount,
				"closed_at":    when,
			}).Error; err != nil {
			return err
		}

		cycle.LedgerEntries = entries
		cycle.ComputedMerkleRoot = cycle.MerkleRoot
		closed = cycle
		return nil
	})
	if err != nil {
		return ledgerdomain.CycleCheckpoint{}, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordCheckpoint(ctx, closed.Currency)
	}
	s.log.Info("cycle checkpoint closed",
		zap.Int64("cycle_number", closed.CycleNumber),
		zap.String("merkle_root", closed.MerkleRoot),
		zap.Int("entries", len(closed.LedgerEntries)),
	)
	s.publishClosed(ctx, closed)
	return closed, nil
}

// publishClosed announces a sealed checkpoint after the commit. Publish
// failures are logged, never surfaced to the close path.
func (s *Service) publishClosed(ctx context.Context, closed ledgerdomain.CycleCheckpoint) {
	if s.bus == nil {
		return
	}
	payload := map[string]any{
		"id":          closed.ID.String(),
		"cycleNumber": closed.CycleNumber,
		"currency":    closed.Currency,
		"totalAmount": closed.TotalAmount,
		"merkleRoot":  closed.MerkleRoot,
		"entryCount":  len(closed.LedgerEntries),
	}
	for _, topic := range []string{events.CycleCheckpointClosed(closed.ID.String()), events.TopicCycleCheckpointAll} {
		if err := s.bus.Publish(ctx, topic, payload); err != nil {
			s.log.Warn("failed to publish checkpoint event",
				zap.String("topic", topic),
				zap.Int64("cycle_number", closed.CycleNumber),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) GetCheckpoint(ctx context.Context, id snowflake.ID) (ledgerdomain.CycleCheckpoint, error) {
	var cycle ledgerdomain.CycleCheckpoint
	err := s.db.WithContext(ctx).First(&cycle, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledgerdomain.CycleCheckpoint{}, ledgerdomain.ErrCheckpointNotFound
	}
	if err != nil {
		return ledgerdomain.CycleCheckpoint{}, err
	}

	entries, err := s.ListByCycle(ctx, cycle.ID)
	if err != nil {
		return ledgerdomain.CycleCheckpoint{}, err
	}
	cycle.LedgerEntries = entries
	cycle.ComputedMerkleRoot = merkle.Root(ledgerdomain.CanonicalLeaves(entries))
	return cycle, nil
}

func (s *Service) GetCheckpointByNumber(ctx context.Context, cycleNumber int64) (ledgerdomain.CycleCheckpoint, error) {
	var cycle ledgerdomain.CycleCheckpoint
	err := s.db.WithContext(ctx).First(&cycle, "cycle_number = ?", cycleNumber).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledgerdomain.CycleCheckpoint{}, ledgerdomain.ErrCheckpointNotFound
	}
	if err != nil {
		return ledgerdomain.CycleCheckpoint{}, err
	}
	return s.GetCheckpoint(ctx, cycle.ID)
}

func (s *Service) ListCheckpoints(ctx context.Context, limit, offset int) ([]ledgerdomain.CycleCheckpoint, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var cycles []ledgerdomain.CycleCheckpoint
	err := s.db.WithContext(ctx).
		Order("cycle_number desc").
		Limit(limit).
		Offset(offset).
		Find(&cycles).Error
	if err != nil {
		return nil, err
	}
	return cycles, nil
}

func (s *Service) VerifyCheckpoint(ctx context.Context, id snowflake.ID) (ledgerdomain.CycleCheckpoint, error) {
	cycle, err := s.GetCheckpoint(ctx, id)
	if err != nil {
		return ledgerdomain.CycleCheckpoint{}, err
	}

	if cycle.ComputedMerkleRoot != cycle.MerkleRoot {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordCheckpointMismatch(ctx)
		}
		s.log.Error("checkpoint merkle root mismatch",
			zap.Int64("cycle_number", cycle.CycleNumber),
			zap.String("stored_root", cycle.MerkleRoot),
			zap.String("computed_root", cycle.ComputedMerkleRoot),
		)
		return cycle, ledgerdomain.ErrChecksumMismatch
	}
	return cycle, nil
}

func validateEntry(entry ledgerdomain.JournalEntry) error {
	if strings.TrimSpace(entry.EntryID) == "" {
		return ledgerdomain.ErrInvalidEntryID
	}
	if strings.TrimSpace(entry.EventID) == "" {
		return ledgerdomain.ErrInvalidEventID
	}
	if strings.TrimSpace(entry.Amount) == "" {
		return ledgerdomain.ErrInvalidEntryAmount
	}
	if strings.TrimSpace(entry.Currency) == "" {
		return ledgerdomain.ErrInvalidCurrency
	}
	switch entry.Direction {
	case ledgerdomain.DirectionDebit, ledgerdomain.DirectionCredit:
		return nil
	default:
		return ledgerdomain.ErrInvalidDirection
	}
}

// sumDebits totals the debit side of a cycle in scaled integer space. The
// debit side equals the gross outflow, so it is the checkpoint total.
func sumDebits(entries []ledgerdomain.JournalEntry) (string, error) {
	total := new(big.Int)
	for _, entry := range entries {
		if entry.Direction != ledgerdomain.DirectionDebit {
			continue
		}
		scaled, err := decimal.ToScaled(entry.Amount, decimal.DefaultPrecision)
		if err != nil {
			return "", err
		}
		total.Add(total, scaled)
	}
	return decimal.FromScaled(total, decimal.DefaultPrecision), nil
}
