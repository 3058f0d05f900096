package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Probe reports whether a dependency the API reads from is usable.
type Probe func(ctx context.Context) error

const probeTimeout = 2 * time.Second

// HealthHandler serves liveness and readiness endpoints.
//
// Responsibilities:
//   - /healthz: liveness, always 200 while the process serves HTTP.
//   - /readyz: readiness, 200 only when every probe passes.
type HealthHandler struct {
	probes map[string]Probe
}

// NewHealthHandler builds a HealthHandler over named probes (e.g.
// "postgres" -> db.PingContext, "panel" -> snapshot present). Nil probes
// are ignored.
func NewHealthHandler(probes map[string]Probe) *HealthHandler {
	p := make(map[string]Probe, len(probes))
	for name, fn := range probes {
		if fn != nil {
			p[name] = fn
		}
	}
	return &HealthHandler{probes: p}
}

// Register mounts /healthz and /readyz on r.
func (h *HealthHandler) Register(r *gin.Engine) {
	// @Summary      Liveness probe
	// @Description  Always returns OK if the service is running
	// @Tags         health
	// @Produce      json
	// @Success      200  {object}  map[string]string
	// @Router       /healthz [get]
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// @Summary      Readiness probe
	// @Description  Returns ready if the panel store is reachable
	// @Tags         health
	// @Produce      json
	// @Success      200  {object}  map[string]string
	// @Failure      503  {object}  map[string]string
	// @Router       /readyz [get]
	r.GET("/readyz", h.ready)
}

func (h *HealthHandler) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
	defer cancel()

	body := gin.H{"status": "ready"}
	code := http.StatusOK
	for name, probe := range h.probes {
		if err := probe(ctx); err != nil {
			body[name] = err.Error()
			body["status"] = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			body[name] = "ok"
		}
	}
	c.JSON(code, body)
}
