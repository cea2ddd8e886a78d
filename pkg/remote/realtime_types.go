package remote

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

// EventType is a row-change kind
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAll    EventType = "*"
)

// Topic selects row changes for one table, optionally filtered
type Topic struct {
	Schema string
	Table  string
	Event  EventType
	// Filter is a PostgREST-style predicate, e.g. "recipient_id=eq.42"
	Filter string
}

// TableTopic builds a topic in the public schema
func TableTopic(table string, event EventType, filter string) Topic {
	return Topic{Schema: "public", Table: table, Event: event, Filter: filter}
}

// Name is a stable identifier for the topic, used as a channel name
func (t Topic) Name() string {
	schema := t.Schema
	if schema == "" {
		schema = "public"
	}
	event := t.Event
	if event == "" {
		event = EventAll
	}
	name := schema + ":" + t.Table + ":" + string(event)
	if t.Filter != "" {
		name += ":" + t.Filter
	}
	return name
}

// Matches reports whether ev belongs to the topic. Filters are enforced by
// the server and not re-checked here.
func (t Topic) Matches(ev ChangeEvent) bool {
	if t.Table != ev.Table {
		return false
	}
	return t.Event == "" || t.Event == EventAll || t.Event == ev.Type
}

// ChangeEvent is one row change delivered on a channel
type ChangeEvent struct {
	Type            EventType           `json:"type"`
	Schema          string              `json:"schema"`
	Table           string              `json:"table"`
	Record          jsoniter.RawMessage `json:"record,omitempty"`
	OldRecord       jsoniter.RawMessage `json:"old_record,omitempty"`
	CommitTimestamp time.Time           `json:"commit_timestamp"`
}

// DecodeRecord unmarshals the new row into v
func (e ChangeEvent) DecodeRecord(v any) error {
	if len(e.Record) == 0 {
		return nil
	}
	return json.Unmarshal(e.Record, v)
}

// DecodeOldRecord unmarshals the previous row into v
func (e ChangeEvent) DecodeOldRecord(v any) error {
	if len(e.OldRecord) == 0 {
		return nil
	}
	return json.Unmarshal(e.OldRecord, v)
}

// Status is a subscription lifecycle state
type Status string

const (
	StatusSubscribed Status = "subscribed"
	StatusDropped    Status = "dropped"
	StatusRejoined   Status = "rejoined"
	StatusClosed     Status = "closed"
)

// Handler receives events and status changes for a subscription.
// Callbacks run on the channel's read goroutine and must not block.
type Handler struct {
	OnChange func(ChangeEvent)
	OnStatus func(Status, error)
}

// Deliver calls OnChange if set
func (h Handler) Deliver(ev ChangeEvent) {
	if h.OnChange != nil {
		h.OnChange(ev)
	}
}

// Notify calls OnStatus if set
func (h Handler) Notify(s Status, err error) {
	if h.OnStatus != nil {
		h.OnStatus(s, err)
	}
}
