// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the serialized snapshot of a record's business fields, plus the
// merge key and the local update timestamp, captured at enqueue time.
type Payload struct {
	UUID      string   `json:"uuid"`
	UpdatedAt ISOTime  `json:"updated_at"`
	Fields    FieldMap `json:"fields"`
}

// ISOTime marshals as the ISO-8601 layout used across the wire and the local
// store.
type ISOTime time.Time

func (t ISOTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(formatTime(time.Time(t)))
}

func (t *ISOTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := parseTime(s)
	if err != nil {
		return err
	}
	*t = ISOTime(parsed)
	return nil
}

func (t ISOTime) Time() time.Time { return time.Time(t) }

func marshalPayload(p Payload) (json.RawMessage, error) {
	return json.Marshal(p)
}

func decodePayload(raw json.RawMessage) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("failed to decode queue payload: %w", err)
	}
	return p, nil
}

// RemoteRecord is one record as reported by the remote backend.
type RemoteRecord struct {
	RemoteID  string
	UUID      string
	Fields    FieldMap
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time // non-nil = remote tombstone
}

// Remote is the per-entity CRUD surface of the remote authoritative store.
// Implementations report failures as *RemoteCallError so retry bookkeeping
// stays uniform; auth and connection management live behind the
// implementation.
type Remote interface {
	// Create pushes a new record and returns the identifier the backend
	// assigned to it.
	Create(ctx context.Context, entity string, payload Payload) (string, error)

	// Update overwrites the record with the given remote id, provided it is
	// not remote-deleted.
	Update(ctx context.Context, entity, remoteID string, payload Payload) error

	// SoftDelete stamps the remote tombstone on the record.
	SoftDelete(ctx context.Context, entity, remoteID string, deletedAt time.Time) error

	// List returns all records of the entity type, tombstoned included,
	// ordered by remote update time ascending.
	List(ctx context.Context, entity string) ([]RemoteRecord, error)
}
