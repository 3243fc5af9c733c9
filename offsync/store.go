// Package offsync implements the offline synchronization engine for clients
// that mutate a local SQLite dataset while disconnected and reconcile it with
// a remote authoritative store once connectivity returns.
//
// The engine is built from a durable change queue, a push reconciler that
// drains it against the remote backend, a pull reconciler that merges remote
// state into the local store, and a single-flight sync coordinator.
//
// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is the ISO-8601 representation persisted for every timestamp
// column (UTC, millisecond precision).
const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// Store provides typed access to locally persisted records of every managed
// entity type. It owns the soft-delete and sync-metadata columns, and every
// mutating call appends the matching queue entry in the same transaction.
type Store struct {
	db     *sql.DB
	reg    *Registry
	logger *slog.Logger
	now    func() time.Time
}

// NewStore initializes the local schema (queue table plus one table per
// registered entity type) and returns the store.
func NewStore(db *sql.DB, reg *Registry, logger *slog.Logger) (*Store, error) {
	if reg == nil || len(reg.Names()) == 0 {
		return nil, fmt.Errorf("registry must contain at least one entity type")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:     db,
		reg:    reg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := s.db.Exec(queueSchema); err != nil {
		return fmt.Errorf("failed to create queue table: %w", err)
	}

	for _, name := range s.reg.Names() {
		et, _ := s.reg.Get(name)
		if err := s.createEntityTable(et); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) createEntityTable(et EntityType) error {
	cols := make([]string, 0, len(et.Columns))
	for _, c := range et.Columns {
		// Business columns are declared typeless; SQLite keeps the bound type.
		cols = append(cols, fmt.Sprintf("%q", c))
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		local_id    INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid        TEXT NOT NULL UNIQUE,
		remote_id   TEXT UNIQUE,
		is_synced   INTEGER NOT NULL DEFAULT 0,
		pending_op  TEXT NOT NULL DEFAULT '' CHECK (pending_op IN ('','INSERT','UPDATE','DELETE')),
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL,
		deleted_at  TEXT,
		%s
	)`, et.table(), strings.Join(cols, ",\n\t\t"))
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("failed to create table for %s: %w", et.Name, err)
	}
	return nil
}

// Queue returns the change queue backed by the same database.
func (s *Store) Queue() *Queue {
	return &Queue{db: s.db}
}

// Registry returns the entity type registry the store was built with.
func (s *Store) Registry() *Registry { return s.reg }

func (s *Store) entityType(name string) (EntityType, error) {
	et, ok := s.reg.Get(name)
	if !ok {
		return EntityType{}, fmt.Errorf("unregistered entity type %q", name)
	}
	return et, nil
}

func validateFields(et EntityType, fields FieldMap) error {
	known := make(map[string]bool, len(et.Columns))
	for _, c := range et.Columns {
		known[c] = true
	}
	for k := range fields {
		if !known[k] {
			return fmt.Errorf("entity type %s has no column %q", et.Name, k)
		}
	}
	return nil
}

// Create inserts a new record, marks it unsynced with a pending insert, and
// appends an insert queue entry in the same transaction.
func (s *Store) Create(ctx context.Context, entity string, fields FieldMap) (Record, error) {
	return s.create(ctx, entity, fields, "")
}

// CreateRemoteKnown inserts a record that is already known to the remote
// backend (remote id supplied by the caller). The record is created synced
// and no queue entry is produced.
func (s *Store) CreateRemoteKnown(ctx context.Context, entity, remoteID string, fields FieldMap) (Record, error) {
	if remoteID == "" {
		return Record{}, fmt.Errorf("remote id must not be empty")
	}
	return s.create(ctx, entity, fields, remoteID)
}

func (s *Store) create(ctx context.Context, entity string, fields FieldMap, remoteID string) (Record, error) {
	et, err := s.entityType(entity)
	if err != nil {
		return Record{}, err
	}
	if err := validateFields(et, fields); err != nil {
		return Record{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.checkNaturalKeyTx(ctx, tx, et, fields, 0); err != nil {
		return Record{}, err
	}

	now := s.now()
	rec := Record{
		UUID:      uuid.New().String(),
		RemoteID:  remoteID,
		Fields:    fields.Clone(),
		IsSynced:  remoteID != "",
		PendingOp: OpInsert,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if remoteID != "" {
		rec.PendingOp = OpNone
	}

	colNames := []string{"uuid", "remote_id", "is_synced", "pending_op", "created_at", "updated_at"}
	args := []any{rec.UUID, nullString(remoteID), rec.IsSynced, string(rec.PendingOp), formatTime(now), formatTime(now)}
	for _, c := range et.Columns {
		colNames = append(colNames, fmt.Sprintf("%q", c))
		args = append(args, fields[c])
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	res, err := tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %q (%s) VALUES (%s)`, et.table(), strings.Join(colNames, ", "), placeholders), args...)
	if err != nil {
		return Record{}, fmt.Errorf("failed to insert %s: %w", et.Name, err)
	}
	rec.LocalID, err = res.LastInsertId()
	if err != nil {
		return Record{}, fmt.Errorf("failed to read local id: %w", err)
	}

	if remoteID == "" {
		if err := s.enqueueTx(ctx, tx, et, rec, OpInsert); err != nil {
			return Record{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("failed to commit create: %w", err)
	}
	return rec, nil
}

// Update replaces the given business fields, marks the record unsynced with a
// pending update, and appends an update queue entry in the same transaction.
func (s *Store) Update(ctx context.Context, entity string, localID int64, fields FieldMap) (Record, error) {
	et, err := s.entityType(entity)
	if err != nil {
		return Record{}, err
	}
	if err := validateFields(et, fields); err != nil {
		return Record{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := s.getTx(ctx, tx, et, "local_id", localID)
	if err != nil {
		return Record{}, err
	}
	if rec.Deleted() {
		return Record{}, fmt.Errorf("%s %d is deleted: %w", et.Name, localID, ErrNotFound)
	}

	// Effective fields after the partial update drive natural key validation.
	merged := rec.Fields.Clone()
	for k, v := range fields {
		merged[k] = v
	}
	if err := s.checkNaturalKeyTx(ctx, tx, et, merged, localID); err != nil {
		return Record{}, err
	}

	now := s.now()
	sets := []string{"is_synced = 0", "pending_op = ?", "updated_at = ?"}
	args := []any{string(OpUpdate), formatTime(now)}
	for k, v := range fields {
		sets = append(sets, fmt.Sprintf("%q = ?", k))
		args = append(args, v)
	}
	args = append(args, localID)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %q SET %s WHERE local_id = ?`, et.table(), strings.Join(sets, ", ")), args...); err != nil {
		return Record{}, fmt.Errorf("failed to update %s: %w", et.Name, err)
	}

	rec.Fields = merged
	rec.IsSynced = false
	rec.PendingOp = OpUpdate
	rec.UpdatedAt = now
	if err := s.enqueueTx(ctx, tx, et, rec, OpUpdate); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("failed to commit update: %w", err)
	}
	return rec, nil
}

// SoftDelete stamps the local tombstone, marks the record unsynced with a
// pending delete, and appends a delete queue entry in the same transaction.
// The row is never physically removed: the uuid must survive as merge key for
// future remote tombstone application.
func (s *Store) SoftDelete(ctx context.Context, entity string, localID int64) error {
	et, err := s.entityType(entity)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := s.getTx(ctx, tx, et, "local_id", localID)
	if err != nil {
		return err
	}
	if rec.Deleted() {
		return nil // already tombstoned
	}

	now := s.now()
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %q SET deleted_at = ?, updated_at = ?, is_synced = 0, pending_op = ? WHERE local_id = ?`,
		et.table()), formatTime(now), formatTime(now), string(OpDelete), localID); err != nil {
		return fmt.Errorf("failed to soft-delete %s: %w", et.Name, err)
	}

	rec.DeletedAt = &now
	rec.UpdatedAt = now
	if err := s.enqueueTx(ctx, tx, et, rec, OpDelete); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit soft-delete: %w", err)
	}
	return nil
}

func (s *Store) enqueueTx(ctx context.Context, tx *sql.Tx, et EntityType, rec Record, op Op) error {
	payload, err := marshalPayload(Payload{
		UUID:      rec.UUID,
		UpdatedAt: ISOTime(rec.UpdatedAt),
		Fields:    rec.Fields,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize %s payload: %w", et.Name, err)
	}
	return insertQueueEntryTx(ctx, tx, QueueEntry{
		Entity:     et.Name,
		LocalID:    rec.LocalID,
		UUID:       rec.UUID,
		RemoteID:   rec.RemoteID,
		Op:         op,
		Payload:    payload,
		EnqueuedAt: s.now(),
	})
}

func (s *Store) checkNaturalKeyTx(ctx context.Context, tx *sql.Tx, et EntityType, fields FieldMap, selfLocalID int64) error {
	if len(et.NaturalKey) == 0 {
		return nil
	}
	conds := []string{"deleted_at IS NULL", "local_id != ?"}
	args := []any{selfLocalID}
	key := make(FieldMap, len(et.NaturalKey))
	for _, k := range et.NaturalKey {
		conds = append(conds, fmt.Sprintf("%q IS ?", k))
		args = append(args, fields[k])
		key[k] = fields[k]
	}
	var exists bool
	err := tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT EXISTS(SELECT 1 FROM %q WHERE %s)`, et.table(), strings.Join(conds, " AND ")), args...).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to validate natural key for %s: %w", et.Name, err)
	}
	if exists {
		return &DuplicateError{Entity: et.Name, Key: key}
	}
	return nil
}

// GetByUUID returns the record with the given uuid, including soft-deleted
// records.
func (s *Store) GetByUUID(ctx context.Context, entity, id string) (Record, error) {
	et, err := s.entityType(entity)
	if err != nil {
		return Record{}, err
	}
	return s.get(ctx, et, "uuid", id)
}

// GetByLocalID returns the record with the given local id, including
// soft-deleted records.
func (s *Store) GetByLocalID(ctx context.Context, entity string, localID int64) (Record, error) {
	et, err := s.entityType(entity)
	if err != nil {
		return Record{}, err
	}
	return s.get(ctx, et, "local_id", localID)
}

// ListActive returns all non-deleted records of the entity type, ordered by
// local id.
func (s *Store) ListActive(ctx context.Context, entity string) ([]Record, error) {
	et, err := s.entityType(entity)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, selectRecords(et)+` WHERE deleted_at IS NULL ORDER BY local_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", et.Name, err)
	}
	defer rows.Close()
	return scanRecords(rows, et)
}

func (s *Store) get(ctx context.Context, et EntityType, keyColumn string, key any) (Record, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`%s WHERE %q = ?`, selectRecords(et), keyColumn), key)
	if err != nil {
		return Record{}, fmt.Errorf("failed to query %s: %w", et.Name, err)
	}
	defer rows.Close()
	return scanOneRecord(rows, et)
}

func (s *Store) getTx(ctx context.Context, tx *sql.Tx, et EntityType, keyColumn string, key any) (Record, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`%s WHERE %q = ?`, selectRecords(et), keyColumn), key)
	if err != nil {
		return Record{}, fmt.Errorf("failed to query %s: %w", et.Name, err)
	}
	defer rows.Close()
	return scanOneRecord(rows, et)
}

// listAllTx loads every record of the entity type (active and tombstoned),
// indexed by uuid. Pull merges run against this index.
func (s *Store) listAllTx(ctx context.Context, tx *sql.Tx, et EntityType) (map[string]Record, error) {
	rows, err := tx.QueryContext(ctx, selectRecords(et))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", et.Name, err)
	}
	defer rows.Close()
	recs, err := scanRecords(rows, et)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Record, len(recs))
	for _, r := range recs {
		out[r.UUID] = r
	}
	return out, nil
}

func selectRecords(et EntityType) string {
	cols := []string{"local_id", "uuid", "remote_id", "is_synced", "pending_op", "created_at", "updated_at", "deleted_at"}
	for _, c := range et.Columns {
		cols = append(cols, fmt.Sprintf("%q", c))
	}
	return fmt.Sprintf(`SELECT %s FROM %q`, strings.Join(cols, ", "), et.table())
}

func scanOneRecord(rows *sql.Rows, et EntityType) (Record, error) {
	recs, err := scanRecords(rows, et)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, ErrNotFound
	}
	return recs[0], nil
}

func scanRecords(rows *sql.Rows, et EntityType) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var (
			rec       Record
			remoteID  sql.NullString
			pending   string
			createdAt string
			updatedAt string
			deletedAt sql.NullString
		)
		fieldVals := make([]any, len(et.Columns))
		dest := []any{&rec.LocalID, &rec.UUID, &remoteID, &rec.IsSynced, &pending, &createdAt, &updatedAt, &deletedAt}
		for i := range fieldVals {
			dest = append(dest, &fieldVals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", et.Name, err)
		}

		rec.RemoteID = remoteID.String
		rec.PendingOp = Op(pending)
		var err error
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		if deletedAt.Valid {
			t, err := parseTime(deletedAt.String)
			if err != nil {
				return nil, err
			}
			rec.DeletedAt = &t
		}

		rec.Fields = make(FieldMap, len(et.Columns))
		for i, c := range et.Columns {
			rec.Fields[c] = normalizeValue(fieldVals[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", et.Name, err)
	}
	return out, nil
}

// normalizeValue converts driver []byte text into string so field maps
// round-trip through JSON payloads unchanged.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// markPushedTx records a successful push of a queue entry. A newly assigned
// remote id is always stored; the sync metadata is settled (is_synced set,
// pending operation cleared) only when settled is true, meaning no later
// queue entry for this record remains. A record with a still-queued edit must
// keep reading as unsynced so the pull conflict guard covers it.
func (s *Store) markPushedTx(ctx context.Context, tx *sql.Tx, et EntityType, localID int64, remoteID string, settled bool) error {
	var sets []string
	var args []any
	if settled {
		sets = append(sets, "is_synced = 1", "pending_op = ''")
	}
	if remoteID != "" {
		sets = append(sets, "remote_id = ?")
		args = append(args, remoteID)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, localID)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %q SET %s WHERE local_id = ?`, et.table(), strings.Join(sets, ", ")), args...); err != nil {
		return fmt.Errorf("failed to mark %s %d synced: %w", et.Name, localID, err)
	}
	return nil
}

// insertFromRemoteTx materializes a record that originated remotely. No queue
// entry is produced: remote-origin changes must not be echoed back.
func (s *Store) insertFromRemoteTx(ctx context.Context, tx *sql.Tx, et EntityType, rr RemoteRecord) error {
	createdAt := rr.CreatedAt
	if createdAt.IsZero() {
		createdAt = rr.UpdatedAt
	}
	colNames := []string{"uuid", "remote_id", "is_synced", "pending_op", "created_at", "updated_at", "deleted_at"}
	args := []any{rr.UUID, rr.RemoteID, true, "", formatTime(createdAt), formatTime(rr.UpdatedAt), nullTime(rr.DeletedAt)}
	for _, c := range et.Columns {
		colNames = append(colNames, fmt.Sprintf("%q", c))
		args = append(args, rr.Fields[c])
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %q (%s) VALUES (%s)`, et.table(), strings.Join(colNames, ", "), placeholders), args...); err != nil {
		return fmt.Errorf("failed to insert remote %s %s: %w", et.Name, rr.UUID, err)
	}
	return nil
}

// overwriteFromRemoteTx applies the remote version of an existing record.
func (s *Store) overwriteFromRemoteTx(ctx context.Context, tx *sql.Tx, et EntityType, localID int64, rr RemoteRecord) error {
	sets := []string{"remote_id = ?", "is_synced = 1", "pending_op = ''", "deleted_at = NULL", "updated_at = ?"}
	args := []any{rr.RemoteID, formatTime(rr.UpdatedAt)}
	for _, c := range et.Columns {
		sets = append(sets, fmt.Sprintf("%q = ?", c))
		args = append(args, rr.Fields[c])
	}
	args = append(args, localID)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %q SET %s WHERE local_id = ?`, et.table(), strings.Join(sets, ", ")), args...); err != nil {
		return fmt.Errorf("failed to apply remote %s %s: %w", et.Name, rr.UUID, err)
	}
	return nil
}

// applyRemoteTombstoneTx applies a remote delete marker to a local record.
func (s *Store) applyRemoteTombstoneTx(ctx context.Context, tx *sql.Tx, et EntityType, localID int64, deletedAt time.Time) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %q SET deleted_at = ?, updated_at = ?, is_synced = 1, pending_op = '' WHERE local_id = ?`,
		et.table()), formatTime(deletedAt), formatTime(deletedAt), localID); err != nil {
		return fmt.Errorf("failed to tombstone %s %d: %w", et.Name, localID, err)
	}
	return nil
}
