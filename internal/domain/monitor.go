package domain

import (
	"context"
	"time"
)

type Protocol string

const (
	ProtocolTCP   Protocol = "tcp"
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

type Status string

const (
	StatusUnknown Status = "unknown"
	StatusUp      Status = "up"
	StatusDown    Status = "down"
)

// UptimeMonitor is an endpoint probed every Interval minutes.
type UptimeMonitor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Protocol  Protocol  `json:"type"`
	Path      string    `json:"path"`
	Interval  int       `json:"interval"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MonitorInput holds the user-editable fields of an UptimeMonitor.
type MonitorInput struct {
	Name     string   `json:"name" validate:"required"`
	Host     string   `json:"host" validate:"required,hostname_rfc1123|ip"`
	Port     int      `json:"port" validate:"min=1,max=65535"`
	Protocol Protocol `json:"type" validate:"oneof=tcp http https"`
	Path     string   `json:"path" validate:"urlpath"`
	Interval int      `json:"interval" validate:"min=1,max=1440"`
}

// Apply copies the input onto m. Path is dropped for tcp monitors.
func (in MonitorInput) Apply(m *UptimeMonitor) {
	m.Name = in.Name
	m.Host = in.Host
	m.Port = in.Port
	m.Protocol = in.Protocol
	m.Path = in.Path
	m.Interval = in.Interval
	if m.Protocol == ProtocolTCP {
		m.Path = ""
	}
}

// CurrentState is the in-memory result of the latest probe.
type CurrentState struct {
	Status       Status     `json:"status"`
	LastCheck    *time.Time `json:"lastCheck"`
	ResponseTime *int64     `json:"responseTime"`
}

// HistoryEntry is one persisted probe outcome.
type HistoryEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	Status       Status    `json:"status"`
	ResponseTime *int64    `json:"responseTime"`
}

// MonitorStatus pairs a monitor with its current state.
type MonitorStatus struct {
	UptimeMonitor
	CurrentStatus CurrentState `json:"currentStatus"`
}

// HistoryStats summarises the entries of a history window.
type HistoryStats struct {
	UptimePercentage float64 `json:"uptimePercentage"`
	TotalChecks      int     `json:"totalChecks"`
	UpChecks         int     `json:"upChecks"`
	DownChecks       int     `json:"downChecks"`
	AvgResponseTime  *int64  `json:"avgResponseTime"`
}

type HistoryReport struct {
	History []HistoryEntry `json:"history"`
	Stats   HistoryStats   `json:"stats"`
}

// Prober performs a single reachability check. A failed check returns a
// *ProbeFailure.
type Prober interface {
	Probe(ctx context.Context, m UptimeMonitor) (time.Duration, error)
}
