package changefeed

import (
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"
)

// decoder turns pgoutput messages into events. It keeps the relation
// metadata the server sends before the first change of each table.
//
// Changes of streamed transactions are held in pending, keyed by the
// top-level xid, until the stream commits. An abort drops them, or only
// those of the aborted subtransaction.
type decoder struct {
	relations map[uint32]*pglogrepl.RelationMessageV2
	typeMap   *pgtype.Map
	inStream  bool
	xid       uint32
	pending   map[uint32][]streamedChange
	server    string
	db        string
	logger    *zap.Logger
	now       func() time.Time
}

// streamedChange is a change of a streamed transaction. xid is the
// (sub)transaction that made it.
type streamedChange struct {
	xid   uint32
	event Event
}

func newDecoder(server, db string, logger *zap.Logger) *decoder {
	return &decoder{
		relations: make(map[uint32]*pglogrepl.RelationMessageV2),
		pending:   make(map[uint32][]streamedChange),
		typeMap:   pgtype.NewMap(),
		server:    server,
		db:        db,
		logger:    logger,
		now:       time.Now,
	}
}

// decode parses one XLogData payload starting at lsn.
func (d *decoder) decode(walData []byte, lsn pglogrepl.LSN) ([]Event, error) {
	msg, err := pglogrepl.ParseV2(walData, d.inStream)
	if err != nil {
		return nil, fmt.Errorf("parse logical message: %w", err)
	}
	return d.handle(msg, lsn), nil
}

func (d *decoder) handle(msg pglogrepl.Message, lsn pglogrepl.LSN) []Event {
	switch m := msg.(type) {
	case *pglogrepl.RelationMessageV2:
		d.relations[m.RelationID] = m

	case *pglogrepl.BeginMessage:
		d.xid = m.Xid

	case *pglogrepl.StreamStartMessageV2:
		d.inStream = true
		d.xid = m.Xid

	case *pglogrepl.StreamStopMessageV2:
		d.inStream = false

	case *pglogrepl.StreamCommitMessageV2:
		changes := d.pending[m.Xid]
		delete(d.pending, m.Xid)
		events := make([]Event, 0, len(changes))
		for _, c := range changes {
			events = append(events, c.event)
		}
		return events

	case *pglogrepl.StreamAbortMessageV2:
		d.abort(m.Xid, m.SubXid)

	case *pglogrepl.InsertMessageV2:
		rel, ok := d.relation(m.RelationID)
		if !ok {
			return nil
		}
		return d.emit(m.Xid, d.event(rel, OpCreate, lsn, nil, d.tuple(rel, m.Tuple)))

	case *pglogrepl.UpdateMessageV2:
		rel, ok := d.relation(m.RelationID)
		if !ok {
			return nil
		}
		return d.emit(m.Xid, d.event(rel, OpUpdate, lsn, d.tuple(rel, m.OldTuple), d.tuple(rel, m.NewTuple)))

	case *pglogrepl.DeleteMessageV2:
		rel, ok := d.relation(m.RelationID)
		if !ok {
			return nil
		}
		return d.emit(m.Xid, d.event(rel, OpDelete, lsn, d.tuple(rel, m.OldTuple), nil))

	case *pglogrepl.TruncateMessageV2:
		var events []Event
		for _, id := range m.RelationIDs {
			if rel, ok := d.relation(id); ok {
				events = append(events, d.event(rel, OpTruncate, lsn, nil, nil))
			}
		}
		return d.emit(m.Xid, events...)
	}
	return nil
}

// emit returns events of a committed transaction and holds back those of
// a streamed one.
func (d *decoder) emit(xid uint32, events ...Event) []Event {
	if !d.inStream {
		return events
	}
	for _, e := range events {
		d.pending[d.xid] = append(d.pending[d.xid], streamedChange{xid: xid, event: e})
	}
	return nil
}

func (d *decoder) abort(xid, subXid uint32) {
	if subXid == 0 || subXid == xid {
		delete(d.pending, xid)
		return
	}
	kept := d.pending[xid][:0]
	for _, c := range d.pending[xid] {
		if c.xid != subXid {
			kept = append(kept, c)
		}
	}
	d.pending[xid] = kept
}

func (d *decoder) relation(id uint32) (*pglogrepl.RelationMessageV2, bool) {
	rel, ok := d.relations[id]
	if !ok {
		d.logger.Error("change for unknown relation", zap.Uint32("relation_id", id))
	}
	return rel, ok
}

// event builds a change event of the current top-level transaction.
func (d *decoder) event(rel *pglogrepl.RelationMessageV2, op Operation, lsn pglogrepl.LSN, before, after map[string]any) Event {
	ts := d.now().UnixMilli()
	return Event{Payload: Payload{
		Before: before,
		After:  after,
		Source: Source{
			Version:   "1.0",
			Connector: "postgresql",
			Name:      d.server,
			TsMs:      ts,
			Db:        d.db,
			Schema:    rel.Namespace,
			Table:     rel.RelationName,
			TxID:      int64(d.xid),
			Lsn:       int64(lsn),
		},
		Op:   op,
		TsMs: ts,
	}}
}

// tuple decodes a row image. Unchanged TOASTed values are left out.
func (d *decoder) tuple(rel *pglogrepl.RelationMessageV2, t *pglogrepl.TupleData) map[string]any {
	if t == nil {
		return nil
	}
	values := make(map[string]any, len(t.Columns))
	for i, col := range t.Columns {
		if i >= len(rel.Columns) {
			break
		}
		name := rel.Columns[i].Name
		switch col.DataType {
		case pglogrepl.TupleDataTypeNull:
			values[name] = nil
		case pglogrepl.TupleDataTypeToast:
		case pglogrepl.TupleDataTypeText:
			v, err := d.decodeText(col.Data, rel.Columns[i].DataType)
			if err != nil {
				d.logger.Warn("decoding column failed",
					zap.String("table", rel.RelationName), zap.String("column", name), zap.Error(err))
				v = string(col.Data)
			}
			values[name] = v
		default:
			values[name] = string(col.Data)
		}
	}
	return values
}

func (d *decoder) decodeText(data []byte, oid uint32) (any, error) {
	if dt, ok := d.typeMap.TypeForOID(oid); ok {
		return dt.Codec.DecodeValue(d.typeMap, oid, pgtype.TextFormatCode, data)
	}
	return string(data), nil
}
