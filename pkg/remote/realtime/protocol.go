package realtime

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/zfogg/sidechain/clientsync/pkg/remote"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is a channel protocol event name
type Event string

const (
	EventJoin            Event = "phx_join"
	EventLeave           Event = "phx_leave"
	EventReply           Event = "phx_reply"
	EventClose           Event = "phx_close"
	EventError           Event = "phx_error"
	EventHeartbeat       Event = "heartbeat"
	EventPostgresChanges Event = "postgres_changes"
	EventSystem          Event = "system"
)

const (
	phoenixTopic = "phoenix"
	topicPrefix  = "realtime:"
)

// Message is one frame on the socket
type Message struct {
	Topic   string              `json:"topic"`
	Event   Event               `json:"event"`
	Payload jsoniter.RawMessage `json:"payload"`
	Ref     string              `json:"ref,omitempty"`
	JoinRef string              `json:"join_ref,omitempty"`
}

type changeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type joinConfig struct {
	Broadcast       map[string]bool `json:"broadcast"`
	Presence        map[string]any  `json:"presence"`
	PostgresChanges []changeFilter  `json:"postgres_changes"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

func newJoinPayload(topic remote.Topic, token string) joinPayload {
	schema := topic.Schema
	if schema == "" {
		schema = "public"
	}
	event := string(topic.Event)
	if event == "" {
		event = string(remote.EventAll)
	}
	return joinPayload{
		Config: joinConfig{
			Broadcast: map[string]bool{"self": false},
			Presence:  map[string]any{"key": ""},
			PostgresChanges: []changeFilter{{
				Event:  event,
				Schema: schema,
				Table:  topic.Table,
				Filter: topic.Filter,
			}},
		},
		AccessToken: token,
	}
}

type replyPayload struct {
	Status   string              `json:"status"`
	Response jsoniter.RawMessage `json:"response"`
}

// reason extracts the server's error reason, if any
func (r replyPayload) reason() string {
	var body struct {
		Reason string `json:"reason"`
	}
	if len(r.Response) > 0 && json.Unmarshal(r.Response, &body) == nil && body.Reason != "" {
		return body.Reason
	}
	return r.Status
}

type changesPayload struct {
	IDs  []int64            `json:"ids"`
	Data remote.ChangeEvent `json:"data"`
}
