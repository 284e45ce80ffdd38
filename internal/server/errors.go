package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/omnisonic/coda/internal/blob"
	"github.com/omnisonic/coda/internal/decimal"
	exportdomain "github.com/omnisonic/coda/internal/exportjob/domain"
	ledgerdomain "github.com/omnisonic/coda/internal/ledger/domain"
	licensedomain "github.com/omnisonic/coda/internal/license/domain"
	"github.com/omnisonic/coda/internal/presence"
	royaltydomain "github.com/omnisonic/coda/internal/royalty/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not_found")
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrTooManyRequests = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	}

	switch {
	case errors.Is(err, ledgerdomain.ErrChecksumMismatch):
		return http.StatusConflict, errorPayload{
			Type:    "checksum_mismatch",
			Message: "checkpoint merkle root does not match its entries",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrForbidden), errors.Is(err, blob.ErrBadSignedURL):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case errors.Is(err, decimal.ErrInvalidAmount),
		errors.Is(err, decimal.ErrInvalidShare),
		errors.Is(err, decimal.ErrInvalidShareType):
		return true
	case errors.Is(err, royaltydomain.ErrInvalidEventID),
		errors.Is(err, royaltydomain.ErrInvalidCurrency),
		errors.Is(err, royaltydomain.ErrInvalidGrossAmount),
		errors.Is(err, royaltydomain.ErrInvalidOccurredAt),
		errors.Is(err, royaltydomain.ErrInvalidSplitTotal):
		return true
	case errors.Is(err, ledgerdomain.ErrInvalidEntryID),
		errors.Is(err, ledgerdomain.ErrInvalidEventID),
		errors.Is(err, ledgerdomain.ErrInvalidEntryAmount),
		errors.Is(err, ledgerdomain.ErrInvalidCurrency),
		errors.Is(err, ledgerdomain.ErrInvalidDirection):
		return true
	case errors.Is(err, licensedomain.ErrUnknownRightsType),
		errors.Is(err, licensedomain.ErrUnknownStatus),
		errors.Is(err, licensedomain.ErrStatusNotAllowed),
		errors.Is(err, licensedomain.ErrInvalidWorkID),
		errors.Is(err, licensedomain.ErrInvalidLicensee),
		errors.Is(err, licensedomain.ErrInvalidDateRange):
		return true
	case errors.Is(err, exportdomain.ErrUnknownFormat),
		errors.Is(err, exportdomain.ErrInvalidRoomID),
		errors.Is(err, exportdomain.ErrInvalidWorkID):
		return true
	case errors.Is(err, presence.ErrUnknownStatus):
		return true
	case errors.Is(err, blob.ErrInvalidKey):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	return errors.Is(err, licensedomain.ErrLicenseConflict) ||
		errors.Is(err, ledgerdomain.ErrCycleAlreadyClosed) ||
		errors.Is(err, ledgerdomain.ErrNoOpenCycle) ||
		errors.Is(err, ledgerdomain.ErrCurrencyMismatch) ||
		errors.Is(err, exportdomain.ErrArtifactNotReady)
}

func isNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ledgerdomain.ErrCheckpointNotFound) ||
		errors.Is(err, licensedomain.ErrLicenseNotFound) ||
		errors.Is(err, exportdomain.ErrJobNotFound) ||
		errors.Is(err, blob.ErrNotFound) ||
		errors.Is(err, gorm.ErrRecordNotFound)
}

// classifyErrorForLog buckets an error for the request log without leaking
// internals into log cardinality.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "internal_error", payload.Type
	case status == http.StatusBadRequest:
		return "validation_error", payload.Type
	default:
		return "request_error", payload.Type
	}
}
