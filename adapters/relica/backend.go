package relica

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/coregx/relica"
	"github.com/coregx/wsrm"
	"github.com/coregx/wsrm/model"
	"github.com/coregx/wsrm/storage"
)

var _ storage.Backend = (*Backend)(nil)

// Backend implements storage.Backend on a SQL database using Relica.
type Backend struct {
	db          *relica.DB
	sqlDB       *sql.DB
	driverName  string
	tablePrefix string
}

// NewBackend creates a new Backend with the default table prefix.
//
// The driverName should be "mysql", "postgres", or "sqlite3".
func NewBackend(sqlDB *sql.DB, driverName string) *Backend {
	return NewBackendWithPrefix(sqlDB, driverName, "wsrm_")
}

// NewBackendWithPrefix creates a new Backend with a custom table prefix.
func NewBackendWithPrefix(sqlDB *sql.DB, driverName, prefix string) *Backend {
	return &Backend{
		db:          relica.WrapDB(sqlDB, driverName),
		sqlDB:       sqlDB,
		driverName:  driverName,
		tablePrefix: prefix,
	}
}

func (b *Backend) propertyTable() string {
	return b.tablePrefix + "sequence_property"
}

func (b *Backend) recordTable() string {
	return b.tablePrefix + "send_record"
}

// GetProperty retrieves a property by sequence and name.
func (b *Backend) GetProperty(ctx context.Context, sequenceID, name string) (model.SequenceProperty, error) {
	var p model.SequenceProperty

	err := b.db.WithContext(ctx).Select("*").
		From(b.propertyTable()).
		Where("sequence_id = ? AND name = ?", sequenceID, name).
		WithContext(ctx).
		One(&p)

	if errors.Is(err, sql.ErrNoRows) {
		return p, storage.ErrNotFound
	}
	if err != nil {
		return p, wsrm.NewErrorWithCause(wsrm.ErrCodeStorage, "failed to load property", err)
	}

	return p, nil
}

// FindProperties retrieves every property matching the filter.
func (b *Backend) FindProperties(ctx context.Context, filter storage.PropertyFilter) ([]model.SequenceProperty, error) {
	var props []model.SequenceProperty

	q := b.db.WithContext(ctx).Select("*").From(b.propertyTable())
	if filter.SequenceID != "" {
		q = q.Where("sequence_id = ?", filter.SequenceID)
	}
	if filter.Name != "" {
		q = q.Where("name = ?", filter.Name)
	}
	if filter.Value != "" {
		q = q.Where("value = ?", filter.Value)
	}
	if filter.InternalSequenceID != "" {
		q = q.Where("internal_sequence_id = ?", filter.InternalSequenceID)
	}
	if filter.NamePrefix != "" {
		q = q.Where("name LIKE ?", filter.NamePrefix+"%")
	}

	err := q.OrderBy("sequence_id ASC, name ASC").WithContext(ctx).All(&props)
	if err != nil {
		return nil, wsrm.NewErrorWithCause(wsrm.ErrCodeStorage, "failed to find properties", err)
	}

	// LIKE treats _ as a wildcard and may ignore case, so re-check in Go
	out := make([]model.SequenceProperty, 0, len(props))
	for _, p := range props {
		if filter.Match(p) {
			out = append(out, p)
		}
	}
	storage.SortProperties(out)
	return out, nil
}

// GetSendRecord retrieves a send record by ID.
func (b *Backend) GetSendRecord(ctx context.Context, id string) (model.SendRecord, error) {
	var row sendRecordRow

	err := b.db.WithContext(ctx).Select("*").
		From(b.recordTable()).
		Where("id = ?", id).
		WithContext(ctx).
		One(&row)

	if errors.Is(err, sql.ErrNoRows) {
		return model.SendRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return model.SendRecord{}, wsrm.NewErrorWithCause(wsrm.ErrCodeStorage, "failed to load send record", err)
	}

	return row.toModel(), nil
}

// FindSendRecords retrieves send records matching the filter.
func (b *Backend) FindSendRecords(ctx context.Context, filter storage.SendRecordFilter) ([]model.SendRecord, error) {
	var rows []sendRecordRow

	q := b.db.WithContext(ctx).Select("*").From(b.recordTable())
	if filter.SequenceID != "" {
		q = q.Where("sequence_id = ?", filter.SequenceID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if !filter.DueBefore.IsZero() {
		q = q.Where("status IN (?, ?, ?) AND next_retransmit_at > 0 AND next_retransmit_at <= ?",
			string(model.SendStatusPendingFirstSend),
			string(model.SendStatusAwaitingAck),
			string(model.SendStatusResend),
			filter.DueBefore.UnixNano()).
			OrderBy("next_retransmit_at ASC, id ASC")
	} else {
		q = q.OrderBy("id ASC")
	}
	if filter.Limit > 0 {
		q = q.Limit(int64(filter.Limit))
	}

	if err := q.WithContext(ctx).All(&rows); err != nil {
		return nil, wsrm.NewErrorWithCause(wsrm.ErrCodeStorage, "failed to find send records", err)
	}

	records := make([]model.SendRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toModel())
	}
	return storage.SortAndLimitRecords(records, filter), nil
}

// Apply writes the batch in a single database transaction. Upserts are a delete
// followed by an insert, which every supported dialect accepts.
func (b *Backend) Apply(ctx context.Context, batch *storage.Batch) error {
	tx, err := b.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return wsrm.NewErrorWithCause(wsrm.ErrCodeStorage, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteProp := b.rebind("DELETE FROM " + b.propertyTable() + " WHERE sequence_id = ? AND name = ?")
	insertProp := b.rebind("INSERT INTO " + b.propertyTable() +
		" (sequence_id, name, value, internal_sequence_id) VALUES (?, ?, ?, ?)")
	deleteRecord := b.rebind("DELETE FROM " + b.recordTable() + " WHERE id = ?")
	insertRecord := b.rebind("INSERT INTO " + b.recordTable() +
		" (id, sequence_id, message_type, message_number, message_id, destination, payload, last_message," +
		" status, attempt_count, first_sent_at, last_sent_at, next_retransmit_at, last_error, created_at)" +
		" VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")

	for _, key := range batch.DeleteProperties {
		if _, err := tx.ExecContext(ctx, deleteProp, key.SequenceID, key.Name); err != nil {
			return wsrm.NewErrorWithCause(wsrm.ErrCodeStorage, "failed to delete property", err)
		}
	}
	for _, p := range batch.PutProperties {
		if _, err := tx.ExecContext(ctx, deleteProp, p.SequenceID, p.Name); err != nil {
			return wsrm.NewErrorWithCause(wsrm.ErrCodeStorage, "failed to replace property", err)
		}
		if _, err := tx.ExecContext(ctx, insertProp, p.SequenceID, p.Name, p.Value, p.InternalSequenceID); err != nil {
			return wsrm.NewErrorWithCause(wsrm.ErrCodeStorage, "failed to insert property", err)
		}
	}
	for _, id := range batch.DeleteRecords {
		if _, err := tx.ExecContext(ctx, deleteRecord, id); err != nil {
			return wsrm.NewErrorWithCause(wsrm.ErrCodeStorage, "failed to delete send record", err)
		}
	}
	for _, r := range batch.PutRecords {
		row := newSendRecordRow(r)
		if _, err := tx.ExecContext(ctx, deleteRecord, row.ID); err != nil {
			return wsrm.NewErrorWithCause(wsrm.ErrCodeStorage, "failed to replace send record", err)
		}
		if _, err := tx.ExecContext(ctx, insertRecord,
			row.ID, row.SequenceID, row.MessageType, row.MessageNumber, row.MessageID, row.Destination,
			row.Payload, row.LastMessage, row.Status, row.AttemptCount, row.FirstSentAt, row.LastSentAt,
			row.NextRetransmitAt, row.LastError, row.CreatedAt,
		); err != nil {
			return wsrm.NewErrorWithCause(wsrm.ErrCodeStorage, "failed to insert send record", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wsrm.NewErrorWithCause(wsrm.ErrCodeStorage, "failed to commit transaction", err)
	}
	return nil
}

// Close is a no-op: the *sql.DB belongs to the caller.
func (b *Backend) Close() error {
	return nil
}

// rebind rewrites ? placeholders for drivers that use positional parameters.
func (b *Backend) rebind(query string) string {
	if b.driverName != "postgres" {
		return query
	}

	var sb strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

// sendRecordRow is the table layout of a send record. Timestamps are unix nanoseconds
// (0 for unset) so that every dialect stores them the same way.
type sendRecordRow struct {
	ID               string `db:"id"`
	SequenceID       string `db:"sequence_id"`
	MessageType      string `db:"message_type"`
	MessageNumber    int64  `db:"message_number"`
	MessageID        string `db:"message_id"`
	Destination      string `db:"destination"`
	Payload          []byte `db:"payload"`
	LastMessage      int    `db:"last_message"`
	Status           string `db:"status"`
	AttemptCount     int    `db:"attempt_count"`
	FirstSentAt      int64  `db:"first_sent_at"`
	LastSentAt       int64  `db:"last_sent_at"`
	NextRetransmitAt int64  `db:"next_retransmit_at"`
	LastError        string `db:"last_error"`
	CreatedAt        int64  `db:"created_at"`
}

func newSendRecordRow(r model.SendRecord) sendRecordRow {
	row := sendRecordRow{
		ID:               r.ID,
		SequenceID:       r.SequenceID,
		MessageType:      string(r.MessageType),
		MessageNumber:    r.MessageNumber,
		MessageID:        r.MessageID,
		Destination:      r.Destination,
		Payload:          r.Payload,
		Status:           string(r.Status),
		AttemptCount:     r.AttemptCount,
		FirstSentAt:      toNanos(r.FirstSentAt),
		LastSentAt:       toNanos(r.LastSentAt),
		NextRetransmitAt: toNanos(r.NextRetransmitAt),
		LastError:        r.LastError,
		CreatedAt:        toNanos(r.CreatedAt),
	}
	if r.LastMessage {
		row.LastMessage = 1
	}
	return row
}

func (row sendRecordRow) toModel() model.SendRecord {
	return model.SendRecord{
		ID:               row.ID,
		SequenceID:       row.SequenceID,
		MessageType:      model.MessageType(row.MessageType),
		MessageNumber:    row.MessageNumber,
		MessageID:        row.MessageID,
		Destination:      row.Destination,
		Payload:          row.Payload,
		LastMessage:      row.LastMessage != 0,
		Status:           model.SendStatus(row.Status),
		AttemptCount:     row.AttemptCount,
		FirstSentAt:      fromNanos(row.FirstSentAt),
		LastSentAt:       fromNanos(row.LastSentAt),
		NextRetransmitAt: fromNanos(row.NextRetransmitAt),
		LastError:        row.LastError,
		CreatedAt:        fromNanos(row.CreatedAt),
	}
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
