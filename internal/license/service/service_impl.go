package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/omnisonic/coda/internal/clock"
	"github.com/omnisonic/coda/internal/events"
	"github.com/omnisonic/coda/internal/license/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Bus   events.Bus `optional:"true"`
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	bus   events.Bus
}

func NewService(p Params) domain.Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("license.service"),
		genID: p.GenID,
		clock: p.Clock,
		bus:   p.Bus,
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateRequest) (domain.License, error) {
	if strings.TrimSpace(req.WorkID) == "" {
		return domain.License{}, domain.ErrInvalidWorkID
	}
	if strings.TrimSpace(req.Licensee) == "" {
		return domain.License{}, domain.ErrInvalidLicensee
	}

	rightsType, err := domain.ParseRightsType(req.RightsType)
	if err != nil {
		return domain.License{}, err
	}
	status, err := domain.ParseStatus(req.Status, false)
	if err != nil {
		return domain.License{}, err
	}

	effectiveFrom := req.EffectiveFrom
	if effectiveFrom.IsZero() {
		effectiveFrom = s.clock.Now().UTC()
	}
	if req.ExpiresOn != nil && !req.ExpiresOn.After(effectiveFrom) {
		return domain.License{}, domain.ErrInvalidDateRange
	}

	var territory *string
	if trimmed := strings.TrimSpace(req.Territory); trimmed != "" {
		territory = &trimmed
	}

	now := s.clock.Now().UTC()
	license := domain.License{
		ID:            s.genID.Generate(),
		WorkID:        strings.TrimSpace(req.WorkID),
		Licensee:      strings.TrimSpace(req.Licensee),
		Territory:     territory,
		RightsType:    rightsType,
		EffectiveFrom: effectiveFrom,
		ExpiresOn:     req.ExpiresOn,
		Terms:         req.Terms,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.assertNoConflict(tx, license); err != nil {
			return err
		}
		return tx.Create(&license).Error
	})
	if err != nil {
		return domain.License{}, err
	}

	s.log.Info("license created",
		zap.String("license_id", license.ID.String()),
		zap.String("work_id", license.WorkID),
		zap.String("rights_type", string(license.RightsType)),
		zap.String("status", string(license.Status)),
	)
	s.publishUpdated(ctx, license)
	return license, nil
}

// assertNoConflict rejects a draft or active license whose validity window
// overlaps another draft or active license for the same work, rights type,
// and territory. Expired and revoked rows never conflict.
func (s *service) assertNoConflict(tx *gorm.DB, candidate domain.License) error {
	if candidate.Status != domain.StatusDraft && candidate.Status != domain.StatusActive {
		return nil
	}

	query := tx.
		Where("work_id = ?", candidate.WorkID).
		Where("rights_type = ?", candidate.RightsType).
		Where("status IN ?", []domain.Status{domain.StatusDraft, domain.StatusActive}).
		Where("id <> ?", candidate.ID)
	if candidate.Territory == nil {
		query = query.Where("territory IS NULL")
	} else {
		query = query.Where("territory = ?", *candidate.Territory)
	}

	var existing []domain.License
	if err := query.Find(&existing).Error; err != nil {
		return err
	}

	for _, other := range existing {
		if !domain.RangesOverlap(candidate.EffectiveFrom, candidate.ExpiresOn, other.EffectiveFrom, other.ExpiresOn) {
			continue
		}
		territory := "worldwide"
		if candidate.Territory != nil {
			territory = *candidate.Territory
		}
		return fmt.Errorf("%w: license %s covers %s %s in %s",
			domain.ErrLicenseConflict, other.ID, candidate.WorkID, candidate.RightsType, territory)
	}
	return nil
}

func (s *service) Revoke(ctx context.Context, id snowflake.ID) (domain.License, error) {
	var license domain.License
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&license, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrLicenseNotFound
			}
			return err
		}
		license.Status = domain.StatusRevoked
		license.UpdatedAt = s.clock.Now().UTC()
		return tx.Model(&domain.License{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":     license.Status,
				"updated_at": license.UpdatedAt,
			}).Error
	})
	if err != nil {
		return domain.License{}, err
	}

	s.log.Info("license revoked",
		zap.String("license_id", license.ID.String()),
		zap.String("work_id", license.WorkID),
	)
	s.publishUpdated(ctx, license)
	return license, nil
}

func (s *service) List(ctx context.Context, req domain.ListRequest) ([]domain.License, error) {
	query := s.db.WithContext(ctx).Model(&domain.License{})
	if workID := strings.TrimSpace(req.WorkID); workID != "" {
		query = query.Where("work_id = ?", workID)
	}
	if territory := strings.TrimSpace(req.Territory); territory != "" {
		query = query.Where("(territory = ? OR territory IS NULL)", territory)
	}
	if req.RightsType != "" {
		rightsType, err := domain.ParseRightsType(req.RightsType)
		if err != nil {
			return nil, err
		}
		query = query.Where("rights_type = ?", rightsType)
	}

	var licenses []domain.License
	if err := query.Order("created_at desc, id desc").Find(&licenses).Error; err != nil {
		return nil, err
	}
	return licenses, nil
}

func (s *service) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	var expired []domain.License
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("status = ?", domain.StatusActive).
			Where("expires_on IS NOT NULL AND expires_on <= ?", now.UTC()).
			Find(&expired).Error; err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}
		ids := make([]snowflake.ID, 0, len(expired))
		for _, license := range expired {
			ids = append(ids, license.ID)
		}
		return tx.Model(&domain.License{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":     domain.StatusExpired,
				"updated_at": now.UTC(),
			}).Error
	})
	if err != nil {
		return 0, err
	}

	for _, license := range expired {
		license.Status = domain.StatusExpired
		s.publishUpdated(ctx, license)
	}
	if len(expired) > 0 {
		s.log.Info("expired due licenses", zap.Int("count", len(expired)))
	}
	return int64(len(expired)), nil
}

// publishUpdated notifies downstream consumers after the database commit.
// A bus failure never fails the write.
func (s *service) publishUpdated(ctx context.Context, license domain.License) {
	if s.bus == nil {
		return
	}
	payload := map[string]any{
		"licenseId":  license.ID.String(),
		"workId":     license.WorkID,
		"rightsType": string(license.RightsType),
		"status":     string(license.Status),
	}
	if err := s.bus.Publish(ctx, events.LicenseUpdated(license.WorkID), payload); err != nil {
		s.log.Warn("publish license.updated failed",
			zap.String("license_id", license.ID.String()),
			zap.Error(err),
		)
	}
}
