package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformed marks a body that will never decode; it must not be redelivered.
var ErrMalformed = errors.New("malformed message")

// Dispatch is sent to each target replica.
// Repair is set instead of expecting a reply when the coordinator pushes a
// consensus value back to a discrepant replica.
type Dispatch struct {
	RequestID string          `json:"request_id"`
	Payload   map[string]any  `json:"payload,omitempty"`
	ReplyTag  string          `json:"reply_tag,omitempty"`
	Repair    json.RawMessage `json:"repair,omitempty"`
}

// Reply is sent by a replica to the coordinator's reply tag.
type Reply struct {
	RequestID string         `json:"request_id"`
	ReplicaID string         `json:"replica_id"`
	Response  map[string]any `json:"response"`
}

// ID accepts a JSON string or number and keeps its decimal text.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

type wireReply struct {
	RequestID ID              `json:"request_id"`
	ReplicaID ID              `json:"replica_id"`
	Response  json.RawMessage `json:"response"`
	// original replicas tag themselves as microservice_id
	MicroserviceID ID `json:"microservice_id"`
}

// DecodeReply parses and validates a reply body.
func DecodeReply(body []byte) (Reply, error) {
	var w wireReply
	if err := json.Unmarshal(body, &w); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	replicaID := w.ReplicaID
	if replicaID == "" {
		replicaID = w.MicroserviceID
	}
	if w.RequestID == "" {
		return Reply{}, fmt.Errorf("%w: missing request_id", ErrMalformed)
	}
	if replicaID == "" {
		return Reply{}, fmt.Errorf("%w: missing replica_id", ErrMalformed)
	}
	var resp map[string]any
	if len(w.Response) == 0 {
		return Reply{}, fmt.Errorf("%w: missing response", ErrMalformed)
	}
	if err := json.Unmarshal(w.Response, &resp); err != nil || resp == nil {
		return Reply{}, fmt.Errorf("%w: response must be an object", ErrMalformed)
	}
	return Reply{
		RequestID: string(w.RequestID),
		ReplicaID: string(replicaID),
		Response:  resp,
	}, nil
}

// DecodeDispatch parses a dispatch body on the replica side.
func DecodeDispatch(body []byte) (Dispatch, error) {
	var w struct {
		RequestID  ID              `json:"request_id"`
		Payload    map[string]any  `json:"payload"`
		Data       map[string]any  `json:"data"`
		ReplyTag   string          `json:"reply_tag"`
		RoutingKey string          `json:"response_routing_key"`
		Repair     json.RawMessage `json:"repair"`
	}
	if err := json.Unmarshal(body, &w); err != nil {
		return Dispatch{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.RequestID == "" {
		return Dispatch{}, fmt.Errorf("%w: missing request_id", ErrMalformed)
	}
	d := Dispatch{
		RequestID: string(w.RequestID),
		Payload:   w.Payload,
		ReplyTag:  w.ReplyTag,
		Repair:    w.Repair,
	}
	if d.Payload == nil {
		d.Payload = w.Data
	}
	if d.ReplyTag == "" {
		d.ReplyTag = w.RoutingKey
	}
	if len(d.Repair) == 0 && d.ReplyTag == "" {
		return Dispatch{}, fmt.Errorf("%w: missing reply_tag", ErrMalformed)
	}
	return d, nil
}

// Encode marshals v as a message body.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
