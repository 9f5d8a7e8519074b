// Package dimension is the generic base shared by every memory dimension: a
// write-through cache over a recordstore table with per-record write
// serialization, index hooks and change notifications.
package dimension

import (
	"time"
)

// Header carries the fields every dimension record shares. The store owns
// ID and the timestamps; callers never set them.
type Header struct {
	ID        string                 `json:"id"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Clone returns a copy of h with its own metadata map.
func (h Header) Clone() Header {
	c := h
	if h.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(h.Metadata))
		for k, v := range h.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// Record is implemented by pointer types of dimension records.
type Record[R any] interface {
	// Base exposes the shared fields for the store to stamp.
	Base() *Header

	// Clone returns a deep copy, so cached records are never shared with callers.
	Clone() R
}

// CloneStrings copies a string slice, preserving nil.
func CloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

// CloneFloats copies a vector, preserving nil.
func CloneFloats(in []float32) []float32 {
	if in == nil {
		return nil
	}
	return append([]float32(nil), in...)
}
