package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/warden/backend/internal/models"
	"github.com/warden/backend/internal/repository"
	"github.com/warden/backend/internal/trust"
)

// Counters exposes the live pipeline counters for the stats endpoint.
type Counters interface {
	Counters() models.EngineStats
}

type TrustHandler struct {
	ledger    *trust.Ledger
	trustRepo *repository.TrustRepository
	auditRepo *repository.AuditRepository
	counters  Counters
}

func NewTrustHandler(ledger *trust.Ledger, trustRepo *repository.TrustRepository, auditRepo *repository.AuditRepository, counters Counters) *TrustHandler {
	return &TrustHandler{
		ledger:    ledger,
		trustRepo: trustRepo,
		auditRepo: auditRepo,
		counters:  counters,
	}
}

// GetUser returns the live trust record for a platform user
func (h *TrustHandler) GetUser(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid user ID")
		return
	}

	rec, err := h.ledger.Snapshot(userID)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to load trust record")
		return
	}
	if rec == nil {
		// Never seen by the pipeline; fall back to the durable store in
		// case the record predates this process.
		rec, err = h.trustRepo.LoadRecord(userID)
		if err != nil {
			ErrorResponse(c, http.StatusInternalServerError, "Failed to load trust record")
			return
		}
		if rec == nil {
			ErrorResponse(c, http.StatusNotFound, "User has no trust record")
			return
		}
	}

	c.JSON(http.StatusOK, rec)
}

// GetTopRisk returns the lowest-trust users, riskiest first
func (h *TrustHandler) GetTopRisk(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit > 100 {
		limit = 100
	}

	records, err := h.trustRepo.QueryTopRisk(limit)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to query top risk")
		return
	}

	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

// GetStats returns aggregate pipeline and population statistics
func (h *TrustHandler) GetStats(c *gin.Context) {
	stats := models.EngineStats{}
	if h.counters != nil {
		stats = h.counters.Counters()
	}

	counts, avg, total, err := h.trustRepo.TierCounts()
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to aggregate stats")
		return
	}
	stats.TierCounts = counts
	stats.AverageTrust = avg
	stats.TotalUsers = total

	if outcomes, err := h.auditRepo.CountByOutcome(); err == nil {
		stats.ActionOutcomes = outcomes
		for _, n := range outcomes {
			stats.ActionsTotal += n
		}
	}

	c.JSON(http.StatusOK, stats)
}

// GetAudit returns recent enforcement attempts, optionally filtered by
// user
func (h *TrustHandler) GetAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit > 200 {
		limit = 200
	}

	if userParam := c.Query("user_id"); userParam != "" {
		userID, err := uuid.Parse(userParam)
		if err != nil {
			ErrorResponse(c, http.StatusBadRequest, "Invalid user ID")
			return
		}
		entries, err := h.auditRepo.GetByUser(userID, limit)
		if err != nil {
			ErrorResponse(c, http.StatusInternalServerError, "Failed to query audit log")
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
		return
	}

	entries, err := h.auditRepo.GetRecent(limit)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to query audit log")
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}
