package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printagent/internal/core"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// OptionsLister reports the driver options a print queue accepts.
type OptionsLister interface {
	Options(ctx context.Context, printer string) ([]core.PrinterOption, error)
}

type PrinterOptionsResponse struct {
	Printer string               `json:"printer"`
	Options []core.PrinterOption `json:"options"`
}

type PrinterHandler struct {
	lister  OptionsLister
	printer string
}

func NewPrinterHandler(lister OptionsLister, printer string) *PrinterHandler {
	return &PrinterHandler{lister: lister, printer: printer}
}

// GetOptions lists the configured printer's options, or those of the
// queue named by the printer query parameter.
func (h *PrinterHandler) GetOptions(c *gin.Context) {
	printer := c.DefaultQuery("printer", h.printer)
	if printer == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_printer", Message: "Printer name is required"})
		return
	}

	options, err := h.lister.Options(c.Request.Context(), printer)
	if err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "printer_error", Message: err.Error()})
		return
	}
	if options == nil {
		options = []core.PrinterOption{}
	}

	c.JSON(http.StatusOK, PrinterOptionsResponse{Printer: printer, Options: options})
}
