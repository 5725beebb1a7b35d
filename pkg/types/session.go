// Package types provides the core data types shared between the nexus
// daemon and its UI clients.
package types

import "fmt"

// ChatSession represents a conversation with the supervised OpenCode server.
type ChatSession struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	CreatedAt    string       `json:"created_at"` // RFC 3339
	UpdatedAt    string       `json:"updated_at"`
	MessageCount int          `json:"message_count"`
	LastMessage  *ChatMessage `json:"last_message,omitempty"`
}

// ServerConnection is a saved connection target for an OpenCode server.
type ServerConnection struct {
	Name          string `json:"name"`
	Hostname      string `json:"hostname"`
	Port          int    `json:"port"`
	Secure        bool   `json:"secure"`
	LastConnected string `json:"last_connected,omitempty"` // RFC 3339
}

// URL returns the base URL for the connection.
func (c ServerConnection) URL() string {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Hostname, c.Port)
}

// AppInfo is the identity probe returned by the server's GET /app endpoint.
type AppInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	Status  string `json:"status,omitempty"`
}
