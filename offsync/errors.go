// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"errors"
	"fmt"
)

// ErrSyncInProgress is reported when a sync attempt is rejected because
// another cycle is already running.
var ErrSyncInProgress = errors.New("sync already in progress")

// ErrNotFound is returned by store lookups that match no row.
var ErrNotFound = errors.New("record not found")

// DuplicateError rejects a local mutation that would violate an entity
// type's natural key among active records. It is raised before any queue
// entry is written and is never retried.
type DuplicateError struct {
	Entity string
	Key    FieldMap
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s: natural key %v already in use", e.Entity, e.Key)
}

// MissingRemoteIDError marks a queued update whose record has no remote
// identity yet. It is retried like a transient failure: a pending push of
// the originating insert may assign the remote id before the next attempt.
type MissingRemoteIDError struct {
	Entity string
	UUID   string
}

func (e *MissingRemoteIDError) Error() string {
	return fmt.Sprintf("%s %s has no remote id (insert not pushed yet)", e.Entity, e.UUID)
}

// RemoteCallError wraps a failed call against the remote backend.
type RemoteCallError struct {
	Entity string
	Op     string // create, update, soft-delete, list
	Status int    // transport status code when available, 0 otherwise
	Err    error
}

func (e *RemoteCallError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote %s %s failed (status %d): %v", e.Op, e.Entity, e.Status, e.Err)
	}
	return fmt.Sprintf("remote %s %s failed: %v", e.Op, e.Entity, e.Err)
}

func (e *RemoteCallError) Unwrap() error { return e.Err }
