package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printagent/internal/core"
	"github.com/orrn/printagent/internal/db"
)

// RunStore is the read side of the dispatch journal.
type RunStore interface {
	ListRuns(ctx context.Context, status core.RunStatus, limit, offset int) ([]*core.Run, error)
	GetRun(ctx context.Context, id int64) (*db.RunDetail, error)
	GetRunStats(ctx context.Context) (*db.RunStats, error)
	ListCounters(ctx context.Context, days int) ([]db.PrintCounter, error)
}

type ListRunsQuery struct {
	Status string `form:"status" binding:"omitempty,oneof=processing completed failed"`
	Limit  int    `form:"limit" binding:"min=0"`
	Offset int    `form:"offset" binding:"min=0"`
}

type ListRunsResponse struct {
	Runs   []*core.Run  `json:"runs"`
	Stats  *db.RunStats `json:"stats"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

type CountersResponse struct {
	Days     int               `json:"days"`
	Total    int64             `json:"total"`
	Counters []db.PrintCounter `json:"counters"`
}

type RunHandler struct {
	store RunStore
}

func NewRunHandler(store RunStore) *RunHandler {
	return &RunHandler{store: store}
}

func (h *RunHandler) ListRuns(c *gin.Context) {
	var query ListRunsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_query", Message: err.Error()})
		return
	}

	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 100 {
		query.Limit = 100
	}

	runs, err := h.store.ListRuns(c.Request.Context(), core.RunStatus(query.Status), query.Limit, query.Offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to list runs"})
		return
	}

	stats, err := h.store.GetRunStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to count runs"})
		return
	}

	c.JSON(http.StatusOK, ListRunsResponse{
		Runs:   runs,
		Stats:  stats,
		Limit:  query.Limit,
		Offset: query.Offset,
	})
}

func (h *RunHandler) GetRun(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_id", Message: "Invalid run ID"})
		return
	}

	run, err := h.store.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to retrieve run"})
		return
	}

	c.JSON(http.StatusOK, run)
}

func (h *RunHandler) GetCounters(c *gin.Context) {
	days := 30
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 366 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_days", Message: "days must be between 1 and 366"})
			return
		}
		days = n
	}

	counters, err := h.store.ListCounters(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to retrieve counters"})
		return
	}

	var total int64
	for _, counter := range counters {
		total += counter.Count
	}

	c.JSON(http.StatusOK, CountersResponse{Days: days, Total: total, Counters: counters})
}
