package realtime

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/SJKodehode/tutorial-chat-app/internal/models"
)

const (
	eventJoin        = "phx_join"
	eventLeave       = "phx_leave"
	eventReply       = "phx_reply"
	eventError       = "phx_error"
	eventClose       = "phx_close"
	eventHeartbeat   = "heartbeat"
	eventAccessToken = "access_token"
	eventChanges     = "postgres_changes"
	eventSystem      = "system"

	phoenixTopic = "phoenix"
	topicPrefix  = "realtime:"
)

// Envelope is a Phoenix channel frame (serializer vsn 1.0.0).
type Envelope struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

type changeSpec struct {
	Event  models.EventType `json:"event"`
	Schema string           `json:"schema"`
	Table  string           `json:"table"`
	Filter string           `json:"filter,omitempty"`
}

type joinConfig struct {
	Broadcast struct {
		Self bool `json:"self"`
	} `json:"broadcast"`
	Presence struct {
		Key string `json:"key"`
	} `json:"presence"`
	PostgresChanges []changeSpec `json:"postgres_changes"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changesPayload struct {
	IDs  []int64 `json:"ids"`
	Data struct {
		Schema          string           `json:"schema"`
		Table           string           `json:"table"`
		CommitTimestamp string           `json:"commit_timestamp"`
		Type            models.EventType `json:"type"`
		Record          json.RawMessage  `json:"record"`
		OldRecord       json.RawMessage  `json:"old_record"`
	} `json:"data"`
}

func newJoinPayload(filter models.ChangeFilter, token string) joinPayload {
	p := joinPayload{AccessToken: token}
	schema := filter.Schema
	if schema == "" {
		schema = "public"
	}
	event := filter.Event
	if event == "" {
		event = models.EventAll
	}
	p.Config.PostgresChanges = []changeSpec{{
		Event:  event,
		Schema: schema,
		Table:  filter.Table,
		Filter: filter.String(),
	}}
	return p
}

func (p *changesPayload) event() models.ChangeEvent {
	ev := models.ChangeEvent{
		Type:   p.Data.Type,
		Schema: p.Data.Schema,
		Table:  p.Data.Table,
		Record: p.Data.Record,
	}
	if p.Data.Type == models.EventDelete {
		ev.Record = p.Data.OldRecord
	}
	ev.CommitTimestamp = parseCommitTimestamp(p.Data.CommitTimestamp)
	return ev
}

// parseCommitTimestamp accepts RFC3339 with or without a zone; the backend
// emits both depending on version.
func parseCommitTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// EndpointURL derives the realtime websocket endpoint from the project URL.
func EndpointURL(projectURL, apiKey string) (string, error) {
	u, err := url.Parse(projectURL)
	if err != nil {
		return "", fmt.Errorf("parse project url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported project url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/realtime/v1/websocket"
	q := url.Values{}
	q.Set("apikey", apiKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
