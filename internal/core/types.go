// Package core wires the unity subsystems together: configuration, the
// metadata and audit databases, the refresh-token vault, the portal service
// client, per-user clients and the workspace storage layer.
package core

import (
	"time"
)

// HealthState summarizes one platform health check.
type HealthState string

const (
	HealthOK       HealthState = "ok"
	HealthDegraded HealthState = "degraded"
	HealthDown     HealthState = "down"
)

// HealthReport is the outcome of CheckAPIHealth.
type HealthReport struct {
	CheckedAt time.Time       `json:"checked_at"`
	State     HealthState     `json:"state"`
	Systems   map[string]bool `json:"systems"`
	Error     string          `json:"error,omitempty"`
}

// OK reports whether every required subsystem was up.
func (r HealthReport) OK() bool { return r.State != HealthDown }
