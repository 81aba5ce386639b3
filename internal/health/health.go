// health.go - Health monitoring for the wallet's collaborators.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// DegradedError makes a check report Degraded instead of Unhealthy.
type DegradedError struct{ Reason string }

func (e *DegradedError) Error() string { return e.Reason }

// CheckFunc checks one component.
type CheckFunc func(ctx context.Context) error

// ComponentHealth represents the health of a specific component
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth represents the overall system health
type SystemHealth struct {
	OverallStatus Status            `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	Uptime        time.Duration     `json:"uptime"`
	Version       string            `json:"version"`
}

// Checker manages health checks for the wallet
type Checker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	checkers   map[string]CheckFunc
	startTime  time.Time
	version    string
}

// NewChecker creates a new health checker
func NewChecker(version string) *Checker {
	return &Checker{
		components: make(map[string]*ComponentHealth),
		checkers:   make(map[string]CheckFunc),
		startTime:  time.Now(),
		version:    version,
	}
}

// RegisterComponent registers a health check for a component
func (hc *Checker) RegisterComponent(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.components[name] = &ComponentHealth{
		Name:      name,
		Status:    Healthy,
		Message:   "Component registered",
		LastCheck: time.Now(),
	}
	hc.checkers[name] = check
}

// UpdateComponent updates the health status of a component
func (hc *Checker) UpdateComponent(name string, status Status, message string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if component, exists := hc.components[name]; exists {
		component.Status = status
		component.Message = message
		component.LastCheck = time.Now()
	}
}

// CheckHealth runs every registered check and returns the result
func (hc *Checker) CheckHealth(ctx context.Context) *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	for name, component := range hc.components {
		check, ok := hc.checkers[name]
		if !ok || check == nil {
			continue
		}
		start := time.Now()
		err := check(ctx)
		component.Latency = time.Since(start)
		component.LastCheck = time.Now()

		var degraded *DegradedError
		switch {
		case err == nil:
			component.Status = Healthy
			component.Message = "OK"
		case errors.As(err, &degraded):
			component.Status = Degraded
			component.Message = err.Error()
		default:
			component.Status = Unhealthy
			component.Message = err.Error()
		}
	}
	return hc.snapshot()
}

// GetHealth returns the last known status without probing
func (hc *Checker) GetHealth() *SystemHealth {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.snapshot()
}

func (hc *Checker) snapshot() *SystemHealth {
	overall := Healthy
	components := make([]ComponentHealth, 0, len(hc.components))
	for _, component := range hc.components {
		if component.Status == Unhealthy {
			overall = Unhealthy
		} else if component.Status == Degraded && overall == Healthy {
			overall = Degraded
		}
		components = append(components, *component)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	return &SystemHealth{
		OverallStatus: overall,
		Timestamp:     time.Now(),
		Components:    components,
		Uptime:        time.Since(hc.startTime),
		Version:       hc.version,
	}
}

// Staleness returns a check that degrades when last() is older than maxAge.
func Staleness(what string, maxAge time.Duration, last func() time.Time) CheckFunc {
	return func(context.Context) error {
		t := last()
		if t.IsZero() {
			return &DegradedError{Reason: what + " has not run yet"}
		}
		if age := time.Since(t); age > maxAge {
			return &DegradedError{Reason: fmt.Sprintf("%s last ran %s ago", what, age.Round(time.Second))}
		}
		return nil
	}
}

// Response represents the response format for health reports
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// CreateResponse creates a standardized health report
func CreateResponse(health *SystemHealth) *Response {
	status := "success"
	message := "Wallet is healthy"

	if health.OverallStatus == Unhealthy {
		status = "error"
		message = "Wallet is unhealthy"
	} else if health.OverallStatus == Degraded {
		status = "warning"
		message = "Wallet is degraded"
	}

	return &Response{
		Status:  status,
		Message: message,
		Data:    health,
	}
}
