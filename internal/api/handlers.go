package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultSignalLimit = 20
	maxSignalLimit     = 200

	healthCheckTimeout = 2 * time.Second
)

// handleHealth reports liveness plus a store ping.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "unhealthy",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "healthy",
	})
}

// handleStatus reports what the engine is watching and how long it has
// been running.
func (s *Server) handleStatus(c *gin.Context) {
	summary := s.tracker.Summary()

	status := gin.H{
		"status":         "running",
		"uptime_seconds": summary.UptimeSeconds,
		"uptime":         summary.UptimeFormatted,
		"symbols":        s.cfg.Symbols,
		"intervals":      s.cfg.Intervals,
		"total_signals":  summary.TotalSignals,
		"signals_today":  summary.SignalsToday,
	}

	if s.stream != nil {
		status["stream"] = s.stream.Stats()
	} else {
		status["stream"] = gin.H{"connected": false}
	}

	c.JSON(http.StatusOK, status)
}

// handleRecentSignals returns the newest signals, newest first.
func (s *Server) handleRecentSignals(c *gin.Context) {
	limit := defaultSignalLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxSignalLimit {
			n = maxSignalLimit
		}
		limit = n
	}

	signals, err := s.store.GetSignals(c.Request.Context(), limit, 0)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load signals")
		errorResponse(c, http.StatusInternalServerError, "failed to load signals")
		return
	}

	successResponse(c, gin.H{
		"count":   len(signals),
		"signals": signals,
	})
}

// handleTrackerStats returns the signal statistics snapshot.
func (s *Server) handleTrackerStats(c *gin.Context) {
	successResponse(c, gin.H{
		"summary":  s.tracker.Summary(),
		"detailed": s.tracker.DetailedStats(),
	})
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
