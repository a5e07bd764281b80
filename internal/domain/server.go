package domain

import "time"

// Server is a host running the remote execution agent.
type Server struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Address   string    `json:"address" db:"address"` // Agent base URL, e.g. https://host:8120
	Passkey   string    `json:"-" db:"passkey"`
	Enabled   bool      `json:"enabled" db:"enabled"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CreateServerRequest is the request body for registering a server.
type CreateServerRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Passkey string `json:"passkey"`
	Enabled bool   `json:"enabled"`
}
