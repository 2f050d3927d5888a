package models

import "time"

// ProposeRequest describes a patch to be proposed against the content host.
type ProposeRequest struct {
	RunID       string
	TargetPath  string
	NewContent  string
	Description string
}

// Page bounds a paginated listing.
type Page struct {
	Limit  int
	Offset int
}

// TimeRange bounds a reporting window.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// RunHistory is one run with the actions it recorded. Patches is only
// filled for single-run lookups.
type RunHistory struct {
	Run     Run      `json:"run"`
	Actions []Action `json:"actions"`
	Patches []Patch  `json:"patches,omitempty"`
}

// History is the paginated response of the history endpoint.
type History struct {
	Runs  []RunHistory `json:"runs"`
	Stats HistoryStats `json:"stats"`
	Page  PageInfo     `json:"page"`
}

// PageInfo echoes the pagination applied to a listing.
type PageInfo struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
