// Package storage defines the read-only vault file-system abstraction.
package storage

import "github.com/starford/ansuz/internal/models"

// Provider is the interface for vault file access. Notes are never
// written, moved or deleted through it.
type Provider interface {
	// List returns metadata for every .md file under dir (relative to vault root).
	List(dir string) ([]models.NoteMetadata, error)
	// Read returns the raw bytes of the file at path (relative to vault root).
	Read(path string) ([]byte, error)
	// Folders returns every non-hidden folder in the vault, relative to the
	// root and slash-separated, in lexical order.
	Folders() ([]string, error)
}
