package entity

import "time"

type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Conversation is a saved chat keyed by (Owner, Name). Saving the same key
// replaces the turns.
type Conversation struct {
	Owner     string    `json:"id_hash"`
	Name      string    `json:"name"`
	Turns     []Turn    `json:"turns"`
	UpdatedAt time.Time `json:"updated_at"`
}
