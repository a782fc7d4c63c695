package model

import "time"

// AdapterState is the collector's per-adapter lifecycle state.
type AdapterState string

const (
	AdapterIdle     AdapterState = "idle"
	AdapterPolling  AdapterState = "polling"
	AdapterSuccess  AdapterState = "success"
	AdapterFailed   AdapterState = "failed"
	AdapterDisabled AdapterState = "disabled"
	AdapterStopped  AdapterState = "stopped"
)

// AdapterStatus is an observability snapshot of one adapter worker.
type AdapterStatus struct {
	Exchange            string        `json:"exchange"`
	State               AdapterState  `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	TotalFailures       int64         `json:"total_failures"`
	TotalPolls          int64         `json:"total_polls"`
	QuotesWritten       int64         `json:"quotes_written"`
	QuotesDropped       int64         `json:"quotes_dropped"`
	LastSuccess         time.Time     `json:"last_success,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
	NextDelay           time.Duration `json:"next_delay_ns"`
}
