package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// healthCheckTimeout is the maximum time allowed for all health probes to
// complete. Exceeding it returns 503 Service Unavailable.
const healthCheckTimeout = 2 * time.Second

// HealthProbe defines the interface for a subsystem health check. Each probe
// represents a critical dependency (the database) that must be operational
// for the service to function.
type HealthProbe interface {
	// Name returns a human-readable identifier for the probe (e.g. "database").
	Name() string

	// Check performs the health check. It should respect the context
	// deadline and return an error if the subsystem is unreachable.
	Check(ctx context.Context) error
}

// componentStatus represents the health state of a single subsystem.
type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthResponse is the JSON response body for the health check endpoint.
type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth executes all registered health probes concurrently with a
// short timeout. Returns 200 OK if all probes report healthy, 503 if any
// critical subsystem fails or the deadline is exceeded.
//
// This endpoint is public and mounted at GET /health.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	probes := s.HealthProbes
	if len(probes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	var mu sync.Mutex
	components := make(map[string]componentStatus, len(probes))
	healthy := true

	g, gctx := errgroup.WithContext(ctx)
	for _, probe := range probes {
		probe := probe
		g.Go(func() error {
			err := safeCheck(gctx, probe)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				healthy = false
				components[probe.Name()] = componentStatus{
					Status:  "unhealthy",
					Message: err.Error(),
				}
			} else {
				components[probe.Name()] = componentStatus{Status: "healthy"}
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := healthResponse{Status: "healthy", Components: components}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	JSON(w, r, status, resp)
}

// safeCheck runs a probe and converts panics into errors so a misbehaving
// probe cannot take the health endpoint down with it.
func safeCheck(ctx context.Context, p HealthProbe) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			err = fmt.Errorf("probe panicked: %v", rvr)
		}
	}()
	return p.Check(ctx)
}
