package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAll    EventType = "*"
)

// ChangeFilter selects the rows a change feed subscription receives.
type ChangeFilter struct {
	Event  EventType
	Schema string
	Table  string
	Column string
	Value  string
}

// String renders the column filter in the backend's "col=eq.value" form.
func (f ChangeFilter) String() string {
	if f.Column == "" {
		return ""
	}
	return fmt.Sprintf("%s=eq.%s", f.Column, f.Value)
}

// Topic names the channel for this filter.
func (f ChangeFilter) Topic() string {
	if f.Column == "" {
		return f.Table
	}
	return fmt.Sprintf("%s_%s_%s", f.Table, f.Column, f.Value)
}

// Matches reports whether an event on table with the given record passes the filter.
func (f ChangeFilter) Matches(ev ChangeEvent) bool {
	if f.Table != "" && f.Table != ev.Table {
		return false
	}
	if f.Event != "" && f.Event != EventAll && f.Event != ev.Type {
		return false
	}
	if f.Column == "" {
		return true
	}
	var row map[string]interface{}
	if err := json.Unmarshal(ev.Record, &row); err != nil {
		return false
	}
	return fmt.Sprint(row[f.Column]) == f.Value
}

type ChangeEvent struct {
	Type            EventType       `json:"type"`
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	Record          json.RawMessage `json:"record"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// Message decodes the event record as a messages row.
func (e ChangeEvent) Message() (*Message, error) {
	msg := &Message{}
	if err := json.Unmarshal(e.Record, msg); err != nil {
		return nil, fmt.Errorf("decode message record: %w", err)
	}
	return msg, nil
}
