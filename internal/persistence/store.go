package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// SchemaVersion is written into every persisted blob so future readers
// can migrate old data instead of crashing on it
const SchemaVersion = 1

// ErrNotFound indicates no blob exists for the requested key
var ErrNotFound = errors.New("persistence: blob not found")

// ErrCorruptBlob indicates the stored blob could not be decoded. Callers
// must degrade to defaults rather than propagate this across a public
// boundary.
var ErrCorruptBlob = errors.New("persistence: corrupt blob")

// Envelope wraps every persisted payload with versioning metadata
type Envelope struct {
	SchemaVersion int             `json:"schema_version"`
	SavedAt       time.Time       `json:"saved_at"`
	Payload       json.RawMessage `json:"payload"`
}

// StateStore persists versioned JSON blobs keyed by name. Writes are
// best-effort and last-writer-wins.
type StateStore interface {
	// Save serializes payload under key, overwriting any previous blob
	Save(ctx context.Context, key string, payload interface{}) error

	// Load decodes the blob under key into out. Returns ErrNotFound when
	// no blob exists and ErrCorruptBlob when it cannot be decoded.
	Load(ctx context.Context, key string, out interface{}) error

	// Delete removes the blob under key. Missing blobs are not an error.
	Delete(ctx context.Context, key string) error
}

// Seal wraps a payload into a versioned envelope ready for storage
func Seal(payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		SchemaVersion: SchemaVersion,
		SavedAt:       time.Now().UTC(),
		Payload:       raw,
	})
}

// Open unwraps an envelope and decodes its payload into out. Any decode
// failure, including an unversioned or truncated blob, maps to
// ErrCorruptBlob.
func Open(data []byte, out interface{}) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ErrCorruptBlob
	}
	if env.SchemaVersion <= 0 || env.SchemaVersion > SchemaVersion {
		return ErrCorruptBlob
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return ErrCorruptBlob
	}
	return nil
}
