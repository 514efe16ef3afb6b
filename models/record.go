package models

// ScrapeRecord is one row of the dashboard results table. All fields are
// free text exactly as rendered.
type ScrapeRecord struct {
	ResultID         string `json:"result_id" db:"result_id"`
	Sitename         string `json:"sitename" db:"sitename"`
	LiteID           string `json:"edison_lite_id" db:"edison_lite_id"`
	State            string `json:"state" db:"state"`
	AssignedTeam     string `json:"assigned_team" db:"assigned_team"`
	ComponentVersion string `json:"webcomponent_version" db:"webcomponent_version"`
	IsLive           string `json:"is_live" db:"is_live"`
	UpdatedAt        string `json:"updated_at" db:"updated_at"`
}

// StoredRecord is a persisted ScrapeRecord with the time it was written.
type StoredRecord struct {
	ScrapeRecord
	ScrapedTimestamp string `json:"scraped_timestamp" db:"scraped_timestamp"`
}
