package models

import "time"

type ScrapingSession struct {
	ID                 int64      `json:"id" db:"id"`
	StartedAt          time.Time  `json:"started_at" db:"started_at"`
	EndedAt            *time.Time `json:"ended_at" db:"ended_at"`
	TotalSubscriptions int        `json:"total_subscriptions" db:"total_subscriptions"`
	SuccessfulScrapes  int        `json:"successful_scrapes" db:"successful_scrapes"`
	FailedScrapes      int        `json:"failed_scrapes" db:"failed_scrapes"`
	Notes              string     `json:"session_notes" db:"session_notes"`
}

// SessionSummary is the latest-session block of Stats.
type SessionSummary struct {
	ID                   int64   `json:"id"`
	StartedAt            string  `json:"started_at"`
	EndedAt              *string `json:"ended_at"`
	PlannedSubscriptions int     `json:"planned_subscriptions"`
	SuccessfulScrapes    int     `json:"successful_scrapes"`
	FailedScrapes        int     `json:"failed_scrapes"`
	Notes                string  `json:"notes"`
}

type Stats struct {
	TotalSubscriptions int             `json:"total_subscriptions"`
	TotalResults       int             `json:"total_results"`
	TotalSessions      int             `json:"total_sessions"`
	LastScrape         *string         `json:"last_scrape"`
	LatestSession      *SessionSummary `json:"latest_session"`
}

// Failure describes one identifier that did not produce a saved result.
type Failure struct {
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
}

// RunSummary is what a finished run reports back to its caller.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	SessionID  int64     `json:"session_id"`
	Total      int       `json:"total"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Results    int       `json:"results"`
	Notes      string    `json:"notes"`
	Failures   []Failure `json:"failures,omitempty"`
}
