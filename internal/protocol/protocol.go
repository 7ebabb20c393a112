// Package protocol defines the binary frames exchanged over a session
// websocket. A frame is [msgType][syncType?][payload]; payloads are
// opaque to the relay and interpreted by the crdt package.
package protocol

import (
	"encoding/json"
	"errors"
)

const (
	MessageSync      byte = 0
	MessageAwareness byte = 1
)

const (
	SyncStep1  byte = 0 // state vector
	SyncStep2  byte = 1 // catch-up delta
	SyncUpdate byte = 2 // incremental delta
)

// Close codes surfaced to clients.
const (
	CloseSessionDeleted  = 4000
	CloseSessionNotFound = 4004
)

var ErrTruncated = errors.New("protocol: truncated frame")

type Frame struct {
	Type     byte
	SyncType byte
	Payload  []byte
}

func Decode(data []byte) (Frame, error) {
	if len(data) < 1 {
		return Frame{}, ErrTruncated
	}
	f := Frame{Type: data[0]}
	switch f.Type {
	case MessageSync:
		if len(data) < 2 {
			return Frame{}, ErrTruncated
		}
		f.SyncType = data[1]
		f.Payload = data[2:]
	case MessageAwareness:
		f.Payload = data[1:]
	default:
		return Frame{}, errors.New("protocol: unknown message type")
	}
	return f, nil
}

func encodeSync(syncType byte, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+2)
	out = append(out, MessageSync, syncType)
	return append(out, payload...)
}

func EncodeSyncStep1(stateVector []byte) []byte {
	return encodeSync(SyncStep1, stateVector)
}

func EncodeSyncStep2(delta []byte) []byte {
	return encodeSync(SyncStep2, delta)
}

func EncodeSyncUpdate(delta []byte) []byte {
	return encodeSync(SyncUpdate, delta)
}

func EncodeAwareness(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+1)
	out = append(out, MessageAwareness)
	return append(out, payload...)
}

// Awareness is the blob carried by awareness frames: ephemeral presence
// state keyed by client id. A null state announces removal.
type Awareness struct {
	ClientID string          `json:"clientId"`
	State    json.RawMessage `json:"state"`
}

func EncodeAwarenessState(clientID string, state json.RawMessage) []byte {
	payload, _ := json.Marshal(Awareness{ClientID: clientID, State: state})
	return EncodeAwareness(payload)
}

func DecodeAwareness(payload []byte) (Awareness, error) {
	var a Awareness
	if err := json.Unmarshal(payload, &a); err != nil {
		return Awareness{}, err
	}
	return a, nil
}
