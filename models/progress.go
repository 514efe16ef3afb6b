package models

// ProgressState is the polled view of the current run.
type ProgressState struct {
	IsRunning           bool   `json:"is_running"`
	Progress            int    `json:"progress"`
	Total               int    `json:"total"`
	CurrentSubscription string `json:"current_subscription"`
	Message             string `json:"message"`
	LastUpdate          string `json:"last_update"`
	RunID               string `json:"run_id,omitempty"`
}
