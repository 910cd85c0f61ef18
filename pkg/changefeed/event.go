package changefeed

import "strings"

// Operation is the Debezium op code of a change.
type Operation string

const (
	OpCreate   Operation = "c"
	OpUpdate   Operation = "u"
	OpDelete   Operation = "d"
	OpTruncate Operation = "t"
)

// Source describes where a change originated.
type Source struct {
	Version   string `json:"version"`
	Connector string `json:"connector"`
	Name      string `json:"name"`
	TsMs      int64  `json:"ts_ms"`
	Db        string `json:"db"`
	Schema    string `json:"schema"`
	Table     string `json:"table"`
	TxID      int64  `json:"txId"`
	Lsn       int64  `json:"lsn"`
}

// Payload carries the row images of a change. Before is set for updates
// when the table's replica identity provides it, and for deletes.
type Payload struct {
	Before map[string]any `json:"before"`
	After  map[string]any `json:"after"`
	Source Source         `json:"source"`
	Op     Operation      `json:"op"`
	TsMs   int64          `json:"ts_ms"`
}

// Event is one change event.
type Event struct {
	Payload Payload `json:"payload"`
}

// Route joins schema, table and op with sep, e.g. public.oplata.c. Sinks
// prefix it to build subjects and topics.
func (e Event) Route(sep string) string {
	return strings.Join([]string{e.Payload.Source.Schema, e.Payload.Source.Table, string(e.Payload.Op)}, sep)
}
