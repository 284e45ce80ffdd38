package server

import (
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/omnisonic/coda/internal/ledger/domain"
	royaltydomain "github.com/omnisonic/coda/internal/royalty/domain"
)

func (s *Server) IngestUsageEvent(c *gin.Context) {
	ctx := c.Request.Context()
	if s.ingestLimiter.Enabled() {
		allowed, err := s.ingestLimiter.Allow(ctx, s.identity.CurrentUserID(ctx))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !allowed {
			AbortWithError(c, ErrTooManyRequests)
			return
		}
	}

	var event royaltydomain.UsageEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "request body is not a valid usage event"))
		return
	}

	entries, err := s.royaltySvc.Ingest(ctx, event)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"eventId": event.EventID,
		"count":   len(entries),
		"entries": entries,
	})
}

func (s *Server) GetCurrentCycle(c *gin.Context) {
	cycle, err := s.ledgerSvc.CurrentCycle(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, cycle)
}

func (s *Server) ListCycleEntries(c *gin.Context) {
	cycleNumber, err := parseCycleNumber(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	cycle, err := s.ledgerSvc.GetCheckpointByNumber(c.Request.Context(), cycleNumber)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cycleNumber": cycle.CycleNumber,
		"entries":     cycle.LedgerEntries,
	})
}

func (s *Server) CloseCycle(c *gin.Context) {
	cycleNumber, err := parseCycleNumber(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	current, err := s.ledgerSvc.CurrentCycle(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if current.CycleNumber != cycleNumber {
		AbortWithError(c, ledgerdomain.ErrCheckpointNotFound)
		return
	}

	closed, err := s.ledgerSvc.CloseCycle(ctx, s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, closed)
}

func (s *Server) ListCheckpoints(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	checkpoints, err := s.ledgerSvc.ListCheckpoints(c.Request.Context(), limit, offset)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkpoints": checkpoints})
}

func (s *Server) GetCheckpoint(c *gin.Context) {
	id, err := parseCheckpointID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	cycle, err := s.ledgerSvc.GetCheckpoint(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, cycle)
}

func (s *Server) VerifyCheckpoint(c *gin.Context) {
	id, err := parseCheckpointID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	cycle, err := s.ledgerSvc.VerifyCheckpoint(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":       true,
		"cycleNumber": cycle.CycleNumber,
		"merkleRoot":  cycle.MerkleRoot,
	})
}

func parseCycleNumber(c *gin.Context) (int64, error) {
	cycleNumber, err := strconv.ParseInt(c.Param("cycleNumber"), 10, 64)
	if err != nil || cycleNumber <= 0 {
		return 0, newValidationError("cycleNumber", "invalid_cycle_number", "cycle number must be a positive integer")
	}
	return cycleNumber, nil
}

func parseCheckpointID(c *gin.Context) (snowflake.ID, error) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		return 0, newValidationError("id", "invalid_checkpoint_id", "checkpoint id is not valid")
	}
	return id, nil
}
