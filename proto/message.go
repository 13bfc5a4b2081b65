package proto

import (
	"encoding/json"
	"time"
)

const (
	TypeIdentify        = "identify"
	TypeIdentifyAck     = "identify_ack"
	TypeMessage         = "message"
	TypePutData         = "put_data"
	TypeDeleteData      = "delete_data"
	TypeDataChanged     = "data_changed"
	TypeDataDeleted     = "data_deleted"
	TypeSubscribeData   = "subscribe_data"
	TypeUnsubscribeData = "unsubscribe_data"
	TypeGetNodes        = "get_nodes"
	TypeNodes           = "nodes"
	TypeResult          = "result"
)

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

type Message struct {
	Type      string          `json:"type"`                 // one of the Type* constants
	Path      string          `json:"path,omitempty"`       // message or record path (e.g., "/weather")
	Sender    string          `json:"sender,omitempty"`     // sender node ID, injected by the relay
	Recipient string          `json:"recipient,omitempty"`  // target node ID for "message"
	RequestID string          `json:"request_id,omitempty"` // correlates "result"/"nodes" replies
	Payload   json.RawMessage `json:"payload,omitempty"`    // raw JSON; schema depends on Type
	Timestamp int64           `json:"timestamp"`            // UNIX timestamp in milliseconds
}

type IdentifyPayload struct {
	ProposedName string `json:"proposed_name"` // Optional human-readable alias
	Role         string `json:"role,omitempty"`
	Firmware     string `json:"firmware"`
}

type IdAckPayload struct {
	AssignedId string `json:"assigned_id"`
	Status     string `json:"status"`
}

// Node is a peer as seen through the relay.
type Node struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Nearby      bool   `json:"nearby"`
}

type NodesPayload struct {
	Nodes []Node `json:"nodes"`
}

type PutDataPayload struct {
	Data   DataMap `json:"data"`
	Urgent bool    `json:"urgent,omitempty"`
}

type ResultPayload struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (r ResultPayload) OK() bool {
	return r.Status == StatusOK
}

const (
	DataChanged = "changed"
	DataDeleted = "deleted"
)

// DataEvent is a change notification for a replicated record.
type DataEvent struct {
	Type   string  `json:"type"`
	Path   string  `json:"path"`
	Data   DataMap `json:"data,omitempty"`
	Source string  `json:"source,omitempty"`
	Seq    uint64  `json:"seq"`
}

type DataEventsPayload struct {
	Events []DataEvent `json:"events"`
}

// NewPeerMessage builds a "message" for recipient. Opaque bytes travel
// base64-encoded; an empty body leaves Payload unset.
func NewPeerMessage(recipient, path string, body []byte) (Message, error) {
	var payload any
	if len(body) > 0 {
		payload = body
	}
	msg, err := NewMessage(TypeMessage, path, payload)
	if err != nil {
		return Message{}, err
	}
	msg.Recipient = recipient
	return msg, nil
}

// Body decodes the opaque bytes of a peer message.
func (m Message) Body() ([]byte, error) {
	if len(m.Payload) == 0 {
		return nil, nil
	}
	var body []byte
	if err := json.Unmarshal(m.Payload, &body); err != nil {
		return nil, err
	}
	return body, nil
}

// NewMessage builds a message with a JSON-encoded payload and a current timestamp.
func NewMessage(msgType, path string, payload any) (Message, error) {
	msg := Message{Type: msgType, Path: path, Timestamp: time.Now().UnixMilli()}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	msg.Payload = raw
	return msg, nil
}
