// Package models defines the vault and inbox types shared by the inbox
// pipeline and its outer surfaces.
package models

import "time"

// Note is a parsed Markdown file from the vault.
type Note struct {
	Path        string         `json:"path"`
	Body        string         `json:"body"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Title       string         `json:"title,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Aliases     []string       `json:"aliases,omitempty"`
	Checksum    string         `json:"checksum"`
}

// NoteMetadata is a lightweight representation returned by list operations.
type NoteMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Suggestion is the organization proposal computed for one inbox note.
// Folder is nil when no existing folder fits.
type Suggestion struct {
	Path         string    `json:"path"`
	Checksum     string    `json:"checksum"`
	DocumentType string    `json:"documentType"`
	Title        string    `json:"title"`
	Tags         []string  `json:"tags"`
	Aliases      []string  `json:"aliases"`
	Folder       *string   `json:"folder"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Failure reports an inbox note that could not be processed.
type Failure struct {
	Path  string `json:"path"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}
