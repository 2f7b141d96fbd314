package model

import (
	"fmt"
	"time"
)

// Origin tags the ingress channel a batch arrived through.
type Origin string

const (
	OriginEmail  Origin = "email"
	OriginDirect Origin = "direct"
)

// Valid reports whether o is a known ingress channel.
func (o Origin) Valid() bool {
	return o == OriginEmail || o == OriginDirect
}

// Batch is one ingested composite artifact, decomposed into tracked units.
// Aggregate status is never stored on the batch; it is derived from the
// unit records at query time.
type Batch struct {
	ID            string    `json:"id"`
	DeclaredCount int       `json:"declared_count"`
	ActualCount   int       `json:"actual_count"`
	Origin        Origin    `json:"origin"`
	Company       string    `json:"company"`
	OriginPlace   string    `json:"origin_place,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	Operator      string    `json:"operator,omitempty"`
	SourceKey     string    `json:"source_key,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// UnitID builds the canonical unit identifier for a 1-based sequence number
// within the given batch.
func UnitID(batchID string, seq int) string {
	return fmt.Sprintf("%s_unit_%03d", batchID, seq)
}
