package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Serial  string `json:"serial"`
	Printer string `json:"printer"`
	Uptime  string `json:"uptime"`
	Journal bool   `json:"journal"`
}

type HealthHandler struct {
	serial  string
	printer string
	journal bool
	started time.Time
}

func NewHealthHandler(serial, printer string, journal bool) *HealthHandler {
	return &HealthHandler{serial: serial, printer: printer, journal: journal, started: time.Now()}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Serial:  h.serial,
		Printer: h.printer,
		Uptime:  time.Since(h.started).Truncate(time.Second).String(),
		Journal: h.journal,
	})
}
