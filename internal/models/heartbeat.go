package models

import "time"

// Heartbeat is a timestamped liveness ping. Heartbeats are append-only.
type Heartbeat struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Gap is an interval between two consecutive heartbeats longer than the threshold.
type Gap struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Minutes float64   `json:"minutes"`
}
