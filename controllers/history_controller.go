package controllers

import (
	"net/http"
	"strconv"
	"strikefeed/interfaces"
	"strings"

	"github.com/gin-gonic/gin"
)

// HistoryController serves the scan audit log
type HistoryController struct {
	storage interfaces.StorageService
}

// NewHistoryController creates a new history controller
func NewHistoryController(storage interfaces.StorageService) *HistoryController {
	return &HistoryController{
		storage: storage,
	}
}

// HandleListScans returns recent scans, newest first
// GET /api/v1/scans?symbol=AAPL&limit=50
func (hc *HistoryController) HandleListScans(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	scans, err := hc.storage.GetScans(symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count": len(scans),
		"scans": scans,
	})
}
