package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/guttosm/equitypanel/internal/domain/dto"
	"github.com/guttosm/equitypanel/internal/domain/models"
	"github.com/guttosm/equitypanel/internal/service"
)

const periodLayout = "2006-01"

// RunLister exposes the acquisition run history.
type RunLister interface {
	RecentRuns(limit int) ([]models.RunReport, error)
}

// Handler provides HTTP handlers for the published monthly panel.
//
// Responsibilities:
//   - Validate incoming HTTP query parameters
//   - Delegate reads to the panel service and the run recorder
//   - Return structured JSON responses with appropriate HTTP status codes
type Handler struct {
	svc  service.PanelService
	runs RunLister
}

// NewHandler constructs a new Handler instance.
//
// Parameters:
//   - svc (service.PanelService): reads monthly rows for a symbol.
//   - runs (RunLister): run history source; may be nil, in which case
//     /runs answers with an empty list.
//
// Returns:
//   - *Handler: A handler ready to be registered with the router.
func NewHandler(svc service.PanelService, runs RunLister) *Handler {
	return &Handler{svc: svc, runs: runs}
}

// GetPanel handles GET /api/v1/panel requests.
//
// Query Parameters:
//   - symbol (string, required): Ticker symbol (e.g., "AAPL"). Case-insensitive.
//   - from (string, optional): First period to include, YYYY-MM.
//   - to (string, optional): Last period to include, YYYY-MM.
//
// Responses:
//   - 200 OK: PanelResponse with the monthly rows and their cumulative log return.
//   - 400 Bad Request: Missing symbol, malformed period or from after to.
//   - 404 Not Found: No rows for the symbol in range.
//   - 500 Internal Server Error: Failure reading the snapshot.
//
// GetPanel godoc
// @Summary      Get monthly panel rows for a symbol
// @Description  Returns month-end price, volume and log return rows from the latest published panel
// @Tags         panel
// @Accept       json
// @Produce      json
// @Param        symbol  query     string  true   "Ticker symbol" example(AAPL)
// @Param        from    query     string  false  "First period, YYYY-MM" example(2020-01)
// @Param        to      query     string  false  "Last period, YYYY-MM" example(2024-12)
// @Success      200     {object}  dto.PanelResponse  "Success"
// @Failure      400     {object}  dto.ErrorResponse  "Bad Request"
// @Failure      404     {object}  dto.ErrorResponse  "Not Found"
// @Failure      500     {object}  dto.ErrorResponse  "Internal Error"
// @Router       /api/v1/panel [get]
func (h *Handler) GetPanel(c *gin.Context) {
	// ─── Validate "symbol" param ──────────────────────────────
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("symbol is required", nil))
		return
	}

	// ─── Parse optional period bounds ─────────────────────────
	from, fromT, err := parsePeriod(c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid from format, expected YYYY-MM", err))
		return
	}
	to, toT, err := parsePeriod(c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid to format, expected YYYY-MM", err))
		return
	}
	if from != "" && to != "" && fromT.After(toT) {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("from must not be after to", nil))
		return
	}

	// ─── Query service (with request context) ─────────────────
	resp, err := h.svc.GetSymbolPanel(c.Request.Context(), symbol, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("failed to fetch panel", err))
		return
	}
	if resp == nil {
		c.JSON(http.StatusNotFound, dto.NewErrorResponse("no data found", nil))
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ListRuns handles GET /api/v1/runs requests.
//
// ListRuns godoc
// @Summary      List recent acquisition runs
// @Description  Returns the most recent runs, newest first, with their failed symbols
// @Tags         runs
// @Produce      json
// @Param        limit  query     int  false  "Maximum runs to return (1-100)" example(10)
// @Success      200    {array}   models.RunReport   "Success"
// @Failure      400    {object}  dto.ErrorResponse  "Bad Request"
// @Failure      500    {object}  dto.ErrorResponse  "Internal Error"
// @Router       /api/v1/runs [get]
func (h *Handler) ListRuns(c *gin.Context) {
	limit := 10
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 100 {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse("limit must be an integer between 1 and 100", err))
			return
		}
		limit = n
	}

	if h.runs == nil {
		c.JSON(http.StatusOK, []models.RunReport{})
		return
	}
	runs, err := h.runs.RecentRuns(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("failed to list runs", err))
		return
	}
	if runs == nil {
		runs = []models.RunReport{}
	}
	c.JSON(http.StatusOK, runs)
}

func parsePeriod(s string) (string, time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", time.Time{}, nil
	}
	t, err := time.Parse(periodLayout, s)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, t, nil
}
