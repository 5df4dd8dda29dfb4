package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const healthTimeout = 3 * time.Second

// Probe checks one dependency. Optional probes are reported but do not turn the
// service unhealthy.
type Probe struct {
	Name     string
	Check    func(ctx context.Context) error
	Optional bool
}

type componentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthReport struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components"`
}

// HealthChecker runs all probes concurrently.
type HealthChecker struct {
	probes []Probe
}

func NewHealthChecker(probes ...Probe) *HealthChecker {
	return &HealthChecker{probes: probes}
}

func (hc *HealthChecker) check(ctx context.Context) (healthReport, bool) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	report := healthReport{Status: "healthy", Components: make(map[string]componentStatus, len(hc.probes))}
	healthy := true

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, p := range hc.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			status := componentStatus{Status: "healthy"}
			if err := p.Check(ctx); err != nil {
				status = componentStatus{Status: "unhealthy", Error: err.Error()}
			}
			mu.Lock()
			defer mu.Unlock()
			report.Components[p.Name] = status
			if status.Status != "healthy" && !p.Optional {
				healthy = false
			}
		}(p)
	}
	wg.Wait()

	if !healthy {
		report.Status = "unhealthy"
	}
	return report, healthy
}

func (h *Handler) healthCheck(c *gin.Context) {
	report, healthy := h.health.check(c.Request.Context())
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, report)
		return
	}
	c.JSON(http.StatusOK, report)
}
