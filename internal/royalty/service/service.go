package service

import (
	"context"

	"github.com/omnisonic/coda/internal/events"
	ledgerdomain "github.com/omnisonic/coda/internal/ledger/domain"
	obsmetrics "github.com/omnisonic/coda/internal/observability/metrics"
	royaltydomain "github.com/omnisonic/coda/internal/royalty/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	LedgerSvc  ledgerdomain.Service
	Bus        events.Bus          `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	ledgerSvc  ledgerdomain.Service
	bus        events.Bus
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) royaltydomain.Service {
	return &Service{
		log:        p.Log.Named("royalty.service"),
		ledgerSvc:  p.LedgerSvc,
		bus:        p.Bus,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Ingest(ctx context.Context, event royaltydomain.UsageEvent) ([]ledgerdomain.JournalEntry, error) {
	journal, err := Allocate(event)
	if err != nil {
		return nil, err
	}
	if len(journal) == 0 {
		s.log.Debug("usage event carried no splits", zap.String("event_id", event.EventID))
		return nil, nil
	}

	inserted, err := s.ledgerSvc.AppendEntries(ctx, journal)
	if err != nil {
		return nil, err
	}

	if s.obsMetrics != nil && len(inserted) > 0 {
		s.obsMetrics.RecordAllocation(ctx, event.Currency)
	}

	// Notifications go out only after the transaction has committed, and only
	// for rows that were actually inserted, so replays stay silent.
	s.publishInserted(ctx, inserted)

	return inserted, nil
}

func (s *Service) publishInserted(ctx context.Context, inserted []ledgerdomain.JournalEntry) {
	if s.bus == nil {
		return
	}
	for _, entry := range inserted {
		cycleID := ""
		if entry.CycleID != nil {
			cycleID = entry.CycleID.String()
		}
		payload := map[string]any{
			"id":        entry.ID.String(),
			"entryId":   entry.EntryID,
			"eventId":   entry.EventID,
			"cycleId":   cycleID,
			"amount":    entry.Amount,
			"currency":  entry.Currency,
			"direction": string(entry.Direction),
		}
		for _, topic := range []string{events.LedgerEntryCreated(cycleID), events.TopicLedgerEntryAll} {
			if err := s.bus.Publish(ctx, topic, payload); err != nil {
				s.log.Warn("failed to publish ledger entry event",
					zap.String("topic", topic),
					zap.String("entry_id", entry.EntryID),
					zap.Error(err),
				)
			}
		}
	}
}
