package core

import (
	"time"

	"github.com/hupe1980/agentgraph/value"
)

// BookKeepingRecord is the audit record an actor emits once per run. Tool
// actors may emit additional sub-records, each carrying a distinct MessageID.
type BookKeepingRecord struct {
	Input       value.Value `json:"input"`
	Config      value.Value `json:"config"`
	Output      value.Value `json:"output"`
	SessionData value.Value `json:"session_data"`
	Timestamp   time.Time   `json:"timestamp"`
	RunData     value.Value `json:"run_data"`
	UsageData   value.Value `json:"usage_data"`
	MessageID   string      `json:"message_id,omitempty"`
}

// NewBookKeepingRecord returns a record stamped with the current UTC time and
// null payload fields.
func NewBookKeepingRecord() BookKeepingRecord {
	return BookKeepingRecord{
		Input:       value.Null{},
		Config:      value.Null{},
		Output:      value.Null{},
		SessionData: value.Null{},
		Timestamp:   time.Now().UTC(),
		RunData:     value.Null{},
		UsageData:   value.Null{},
	}
}

// Value encodes the record as message data.
func (r BookKeepingRecord) Value() value.Map {
	m := value.Map{
		"input":        orNull(r.Input),
		"config":       orNull(r.Config),
		"output":       orNull(r.Output),
		"session_data": orNull(r.SessionData),
		"timestamp":    value.String(r.Timestamp.UTC().Format(time.RFC3339Nano)),
		"run_data":     orNull(r.RunData),
		"usage_data":   orNull(r.UsageData),
	}
	if r.MessageID != "" {
		m["message_id"] = value.String(r.MessageID)
	}
	return m
}

// RecordFromValue decodes message data produced by BookKeepingRecord.Value.
// Missing fields decode as null; a malformed timestamp is replaced by the
// zero time.
func RecordFromValue(v value.Value) BookKeepingRecord {
	rec := BookKeepingRecord{
		Input:       value.Get(v, "input"),
		Config:      value.Get(v, "config"),
		Output:      value.Get(v, "output"),
		SessionData: value.Get(v, "session_data"),
		RunData:     value.Get(v, "run_data"),
		UsageData:   value.Get(v, "usage_data"),
		MessageID:   value.Text(value.Get(v, "message_id")),
	}
	if ts, err := time.Parse(time.RFC3339Nano, value.Text(value.Get(v, "timestamp"))); err == nil {
		rec.Timestamp = ts
	}
	return rec
}

// BookKeepingJob is handed to the async persistence queue when a run stops.
// Records are grouped per sender; a sender with tool sub-records has several.
type BookKeepingJob struct {
	SessionID string                         `json:"session_id"`
	RunID     string                         `json:"run_id"`
	ActorKeys []string                       `json:"actor_keys"`
	Records   map[string][]BookKeepingRecord `json:"records"`
}

func orNull(v value.Value) value.Value {
	if v == nil {
		return value.Null{}
	}
	return v
}
