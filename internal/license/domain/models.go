package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// RightsType is the closed set of license right categories.
type RightsType string

const (
	RightsMechanical      RightsType = "mechanical"
	RightsPerformance     RightsType = "performance"
	RightsSynchronization RightsType = "synchronization"
	RightsMaster          RightsType = "master"
)

// Status is the closed license lifecycle set.
type Status string

const (
	StatusDraft   Status = "draft"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

var (
	ErrUnknownRightsType = errors.New("license: unknown rights type")
	ErrUnknownStatus     = errors.New("license: unknown status")
	ErrStatusNotAllowed  = errors.New("license: status not allowed on create")
	ErrInvalidWorkID     = errors.New("license: work id is required")
	ErrInvalidLicensee   = errors.New("license: licensee is required")
	ErrInvalidDateRange  = errors.New("license: expiresOn must be later than effectiveFrom")
	ErrLicenseNotFound   = errors.New("license: not found")
	ErrLicenseConflict   = errors.New("license: conflicting license exists")
)

// ParseRightsType maps a string onto the closed rights set. Unknown values
// are rejected, never silently coerced to a default.
func ParseRightsType(value string) (RightsType, error) {
	switch RightsType(strings.ToLower(strings.TrimSpace(value))) {
	case RightsMechanical:
		return RightsMechanical, nil
	case RightsPerformance:
		return RightsPerformance, nil
	case RightsSynchronization:
		return RightsSynchronization, nil
	case RightsMaster:
		return RightsMaster, nil
	default:
		return "", ErrUnknownRightsType
	}
}

// ParseStatus maps a string onto the closed status set. An empty value
// defaults to draft; unknown values are rejected. Unless allowAll is set,
// only draft and active may be assigned directly.
func ParseStatus(value string, allowAll bool) (Status, error) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return StatusDraft, nil
	}
	switch normalized {
	case StatusDraft, StatusActive:
		return normalized, nil
	case StatusExpired, StatusRevoked:
		if allowAll {
			return normalized, nil
		}
		return "", ErrStatusNotAllowed
	default:
		return "", ErrUnknownStatus
	}
}

// License grants a licensee rights over a work for an optional territory
// and time range. A nil territory means worldwide; a nil expiry never ends.
type License struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	WorkID        string         `gorm:"type:text;not null;index" json:"workId"`
	Licensee      string         `gorm:"type:text;not null" json:"licensee"`
	Territory     *string        `gorm:"type:text" json:"territory,omitempty"`
	RightsType    RightsType     `gorm:"type:text;not null" json:"rightsType"`
	EffectiveFrom time.Time      `gorm:"not null" json:"effectiveFrom"`
	ExpiresOn     *time.Time     `json:"expiresOn,omitempty"`
	Terms         datatypes.JSON `gorm:"type:jsonb" json:"terms,omitempty"`
	Status        Status         `gorm:"type:text;not null;index" json:"status"`
	CreatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName sets the database table name.
func (License) TableName() string { return "licenses" }

// CreateRequest carries raw client input; enums arrive as strings and are
// parsed strictly.
type CreateRequest struct {
	WorkID        string         `json:"workId"`
	Licensee      string         `json:"licensee"`
	Territory     string         `json:"territory"`
	RightsType    string         `json:"rightsType"`
	EffectiveFrom time.Time      `json:"effectiveFrom"`
	ExpiresOn     *time.Time     `json:"expiresOn"`
	Terms         datatypes.JSON `json:"terms"`
	Status        string         `json:"status"`
}

// ListRequest filters active licenses.
type ListRequest struct {
	WorkID     string
	Territory  string
	RightsType string
}

// Service manages the license registry.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (License, error)
	Revoke(ctx context.Context, id snowflake.ID) (License, error)
	List(ctx context.Context, req ListRequest) ([]License, error)

	// ExpireDue flips active licenses whose expiry has passed to expired
	// and reports how many changed.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

// RangesOverlap reports whether two validity windows intersect. A nil end
// is open-ended.
func RangesOverlap(startA time.Time, endA *time.Time, startB time.Time, endB *time.Time) bool {
	if endA != nil && startB.After(*endA) {
		return false
	}
	if endB != nil && startA.After(*endB) {
		return false
	}
	return true
}
