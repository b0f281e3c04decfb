package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strikefeed/interfaces"
	"strikefeed/services"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ScanController exposes the scan pipeline over HTTP
type ScanController struct {
	scanner        interfaces.Scanner
	defaultMaxDays int
	logger         *logrus.Logger
}

// NewScanController creates a new scan controller
func NewScanController(scanner interfaces.Scanner, defaultMaxDays int, logger *logrus.Logger) *ScanController {
	return &ScanController{
		scanner:        scanner,
		defaultMaxDays: defaultMaxDays,
		logger:         logger,
	}
}

// HandleGetSession returns the current market session
// GET /api/v1/session
func (sc *ScanController) HandleGetSession(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"session": sc.scanner.SessionStatus(),
		"time":    time.Now(),
	})
}

// HandleGetExpirations lists near-term expirations for a symbol
// GET /api/v1/options/expirations/:symbol?max_days=28
func (sc *ScanController) HandleGetExpirations(c *gin.Context) {
	symbol := c.Param("symbol")

	maxDays := sc.defaultMaxDays
	if v := c.Query("max_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_days must be a non-negative integer"})
			return
		}
		maxDays = n
	}

	dates, err := sc.scanner.Expirations(c.Request.Context(), symbol, maxDays)
	if err != nil {
		if errors.Is(err, services.ErrEmptySymbol) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sc.logger.WithError(err).WithField("symbol", symbol).Error("Failed to get expirations")
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Failed to fetch expirations",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":      symbol,
		"max_days":    maxDays,
		"count":       len(dates),
		"expirations": dates,
	})
}

// HandleScan scores and aligns the chain for a symbol and expiration
// GET /api/v1/options/scan/:symbol?expiration=2024-06-21&min_score=60
func (sc *ScanController) HandleScan(c *gin.Context) {
	symbol := c.Param("symbol")
	expiration := c.Query("expiration")
	if expiration == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expiration required, use YYYY-MM-DD"})
		return
	}

	var minScore float64
	hasMinScore := false
	if v := c.Query("min_score"); v != "" {
		val, err := strconv.ParseFloat(v, 64)
		if err != nil || val < services.MinScore || val > services.MaxScore {
			c.JSON(http.StatusBadRequest, gin.H{"error": "min_score must be between 0 and 100"})
			return
		}
		minScore = val
		hasMinScore = true
	}

	result, err := sc.scanner.Scan(c.Request.Context(), symbol, expiration)
	if err != nil {
		if errors.Is(err, services.ErrEmptySymbol) || errors.Is(err, services.ErrInvalidExpiration) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sc.logger.WithError(err).Error("Scan failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if hasMinScore {
		result.Rows = filterRows(result.Rows, minScore)
	}

	c.JSON(http.StatusOK, result)
}

// HandleHasCached reports whether a fallback chain exists
// GET /api/v1/options/cache/:symbol/:expiration
func (sc *ScanController) HandleHasCached(c *gin.Context) {
	symbol := c.Param("symbol")
	expiration := c.Param("expiration")

	cached, err := sc.scanner.HasCached(c.Request.Context(), symbol, expiration)
	if err != nil {
		if errors.Is(err, services.ErrEmptySymbol) || errors.Is(err, services.ErrInvalidExpiration) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":     symbol,
		"expiration": expiration,
		"cached":     cached,
	})
}

// filterRows keeps rows where at least one leg scores at or above minScore
func filterRows(rows []interfaces.AlignedRow, minScore float64) []interfaces.AlignedRow {
	filtered := make([]interfaces.AlignedRow, 0, len(rows))
	for _, row := range rows {
		if meetsScore(row.Call, minScore) || meetsScore(row.Put, minScore) {
			filtered = append(filtered, row)
		}
	}
	return filtered
}

func meetsScore(leg *interfaces.ScoredContract, minScore float64) bool {
	return leg != nil && leg.Score != nil && *leg.Score >= minScore
}
