package models

type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "pending"
	SubscriptionCompleted SubscriptionStatus = "completed"
)

type Subscription struct {
	ID           int64              `json:"id" db:"id"`
	Search       string             `json:"subscription_search" db:"subscription_search"`
	CreatedAt    string             `json:"created_at" db:"created_at"`
	LastScraped  string             `json:"last_scraped" db:"last_scraped"`
	TotalResults int                `json:"total_results" db:"total_results"`
	Status       SubscriptionStatus `json:"status" db:"status"`
	SessionID    int64              `json:"session_id" db:"session_id"`
}

// SubscriptionView groups a subscription with its stored records.
type SubscriptionView struct {
	SearchTerm   string             `json:"search_term"`
	CreatedAt    string             `json:"created_at"`
	LastScraped  string             `json:"last_scraped"`
	TotalResults int                `json:"total_results"`
	Status       SubscriptionStatus `json:"status"`
	Results      []StoredRecord     `json:"results"`
}
