package registry

import (
	"errors"
	"time"
)

var (
	// ErrInvalidDocument is returned for identity documents that are not alphanumeric
	ErrInvalidDocument = errors.New("identity document must be alphanumeric")
	// ErrNoAllowedFields is returned when the caller may not see any field
	ErrNoAllowedFields = errors.New("no registry fields are allowed for this role")
	// ErrInhabitantNotFound is returned when no current record matches the document
	ErrInhabitantNotFound = errors.New("inhabitant not found")
)

// maxDocumentLength bounds identity documents (DNI, NIE, passport)
const maxDocumentLength = 20

// Config holds registry query settings
type Config struct {
	// Dialect is the registry driver: oracle, postgres or sqlite3
	Dialect string
	// Schema prefixes every registry table, empty for none
	Schema string
	// CacheSize bounds the instruction level description cache
	CacheSize int
	// CacheTTL expires cached descriptions
	CacheTTL time.Duration
}

// Entry is one rendered field of an inhabitant record
type Entry struct {
	Key        string  `json:"key"`
	DisplayKey string  `json:"display_key"`
	Value      *string `json:"value"`
}

// Inhabitant is the permission-filtered view of a registry record
type Inhabitant struct {
	IDDoc   string  `json:"id_doc"`
	Entries []Entry `json:"entries"`
}
