package entity

import "time"

type AIRequest struct {
	UserKey string `json:"id_hash"`
	Prompt  string `json:"prompt"`

	Timestamp time.Time `json:"timestamp"`
}

type AIResponse struct {
	Content    string         `json:"content"`
	Model      string         `json:"model"` // Which model actually answered?
	TokenCount int            `json:"token_count"`
	Latency    int64          `json:"latency_ms"`
	Metadata   map[string]any `json:"metadata"`

	// Set by the orchestrator, not by providers.
	RemainingCredits int  `json:"remaining_credits"`
	Metered          bool `json:"metered"`
	Passages         int  `json:"passages"`
}

// AssembledPrompt is the rendered instruction template plus what went into it.
type AssembledPrompt struct {
	Text          string
	Passages      []string
	Dropped       int
	HasAnnotation bool
	DateFilter    *DateRange
}
