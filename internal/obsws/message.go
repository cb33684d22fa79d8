package obsws

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RPCVersion is the protocol revision sent in every Identify.
const RPCVersion = 1

// Subprotocol is the websocket subprotocol for JSON framing.
const Subprotocol = "obswebsocket.json"

// OpCode identifies the kind of message carried by an envelope.
type OpCode int

const (
	OpHello                OpCode = 0
	OpIdentify             OpCode = 1
	OpIdentified           OpCode = 2
	OpReidentify           OpCode = 3
	OpEvent                OpCode = 5
	OpRequest              OpCode = 6
	OpRequestResponse      OpCode = 7
	OpRequestBatch         OpCode = 8
	OpRequestBatchResponse OpCode = 9
)

func (op OpCode) String() string {
	switch op {
	case OpHello:
		return "Hello"
	case OpIdentify:
		return "Identify"
	case OpIdentified:
		return "Identified"
	case OpReidentify:
		return "Reidentify"
	case OpEvent:
		return "Event"
	case OpRequest:
		return "Request"
	case OpRequestResponse:
		return "RequestResponse"
	case OpRequestBatch:
		return "RequestBatch"
	case OpRequestBatchResponse:
		return "RequestBatchResponse"
	}
	return fmt.Sprintf("OpCode(%d)", int(op))
}

// Close codes the server uses when it drops a session.
const (
	CloseUnknownReason         = 4000
	CloseMessageDecodeError    = 4002
	CloseMissingDataField      = 4003
	CloseInvalidDataFieldType  = 4004
	CloseInvalidDataFieldValue = 4005
	CloseUnknownOpCode         = 4006
	CloseNotIdentified         = 4007
	CloseAlreadyIdentified     = 4008
	CloseAuthenticationFailed  = 4009
	CloseUnsupportedRPCVersion = 4010
	CloseSessionInvalidated    = 4011
	CloseUnsupportedFeature    = 4012
)

// EventSubscription is the bitmask a client sends to choose event categories.
type EventSubscription uint32

const (
	SubNone         EventSubscription = 0
	SubGeneral      EventSubscription = 1 << 0
	SubConfig       EventSubscription = 1 << 1
	SubScenes       EventSubscription = 1 << 2
	SubInputs       EventSubscription = 1 << 3
	SubTransitions  EventSubscription = 1 << 4
	SubFilters      EventSubscription = 1 << 5
	SubOutputs      EventSubscription = 1 << 6
	SubSceneItems   EventSubscription = 1 << 7
	SubMediaInputs  EventSubscription = 1 << 8
	SubVendors      EventSubscription = 1 << 9
	SubUi           EventSubscription = 1 << 10

	SubAll = SubGeneral | SubConfig | SubScenes | SubInputs | SubTransitions |
		SubFilters | SubOutputs | SubSceneItems | SubMediaInputs | SubVendors | SubUi

	// High-volume categories, never part of SubAll.
	SubInputVolumeMeters         EventSubscription = 1 << 16
	SubInputActiveStateChanged   EventSubscription = 1 << 17
	SubInputShowStateChanged     EventSubscription = 1 << 18
	SubSceneItemTransformChanged EventSubscription = 1 << 19
)

// Subscriptions returns a pointer to mask, for the optional fields that take one.
func Subscriptions(mask EventSubscription) *EventSubscription { return &mask }

// ExecutionType selects how the server runs a request batch.
type ExecutionType int

const (
	ExecNone           ExecutionType = -1
	ExecSerialRealtime ExecutionType = 0
	ExecSerialFrame    ExecutionType = 1
	ExecParallel       ExecutionType = 2
)

// Envelope is the outer frame shared by every message: {"op": N, "d": {...}}.
type Envelope struct {
	Op OpCode          `json:"op"`
	D  json.RawMessage `json:"d"`
}

// Encode wraps body in an envelope with the given op.
func Encode(op OpCode, body any) ([]byte, error) {
	d, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", op, err)
	}
	return json.Marshal(Envelope{Op: op, D: d})
}

// DecodeEnvelope parses a frame. Anything that is not a JSON object with an
// integer op and an object d is a *ProtocolError.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var raw struct {
		Op *OpCode         `json:"op"`
		D  json.RawMessage `json:"d"`
	}
	if err := json.Unmarshal(frame, &raw); err != nil {
		return Envelope{}, violation(opUnknown, "malformed frame: %v", err)
	}
	if raw.Op == nil {
		return Envelope{}, violation(opUnknown, "frame has no op")
	}
	d := bytes.TrimSpace(raw.D)
	if len(d) == 0 || d[0] != '{' {
		return Envelope{}, violation(*raw.Op, "frame has no object payload")
	}
	return Envelope{Op: *raw.Op, D: d}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.D, v); err != nil {
		return violation(e.Op, "bad payload: %v", err)
	}
	return nil
}

type HelloAuthentication struct {
	Challenge string `json:"challenge"`
	Salt      string `json:"salt"`
}

type Hello struct {
	ObsWebSocketVersion string               `json:"obsWebSocketVersion"`
	RPCVersion          int                  `json:"rpcVersion"`
	Authentication      *HelloAuthentication `json:"authentication,omitempty"`
}

type Identify struct {
	RPCVersion         int                `json:"rpcVersion"`
	Authentication     string             `json:"authentication,omitempty"`
	EventSubscriptions *EventSubscription `json:"eventSubscriptions,omitempty"`
}

type Identified struct {
	NegotiatedRPCVersion int `json:"negotiatedRpcVersion"`
}

type Reidentify struct {
	EventSubscriptions *EventSubscription `json:"eventSubscriptions,omitempty"`
}

// Event is a server-pushed notification. Data is kept opaque.
type Event struct {
	Type   string          `json:"eventType"`
	Intent uint32          `json:"eventIntent"`
	Data   json.RawMessage `json:"eventData,omitempty"`
}

// Clone returns a copy that shares no memory with e.
func (e Event) Clone() Event {
	if e.Data != nil {
		e.Data = append(json.RawMessage(nil), e.Data...)
	}
	return e
}

type Request struct {
	Type string          `json:"requestType"`
	ID   string          `json:"requestId"`
	Data json.RawMessage `json:"requestData,omitempty"`
}

type RequestStatus struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment,omitempty"`
}

type RequestResponse struct {
	Type   string          `json:"requestType"`
	ID     string          `json:"requestId"`
	Status RequestStatus   `json:"requestStatus"`
	Data   json.RawMessage `json:"responseData,omitempty"`
}

// BatchRequest is one entry of a RequestBatch; its ID is optional.
type BatchRequest struct {
	Type string          `json:"requestType"`
	ID   string          `json:"requestId,omitempty"`
	Data json.RawMessage `json:"requestData,omitempty"`
}

type RequestBatch struct {
	ID            string         `json:"requestId"`
	HaltOnFailure *bool          `json:"haltOnFailure,omitempty"`
	ExecutionType *ExecutionType `json:"executionType,omitempty"`
	Requests      []BatchRequest `json:"requests"`
}

type RequestBatchResponse struct {
	ID      string            `json:"requestId"`
	Results []RequestResponse `json:"results"`
}
