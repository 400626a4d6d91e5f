package models

import (
	"encoding/json"
	"time"
)

// MessageType tags an envelope on the push channel.
type MessageType string

const (
	MsgInitData        MessageType = "INIT_DATA"
	MsgDataUpdate      MessageType = "DATA_UPDATE"
	MsgUpdateConfirmed MessageType = "UPDATE_CONFIRMED"
	MsgHeartbeat       MessageType = "HEARTBEAT"
	MsgPing            MessageType = "PING"
	MsgPong            MessageType = "PONG"
	MsgError           MessageType = "ERROR"
)

// Envelope is the single wire shape for push channel messages. Field
// presence depends on Type; absent fields are omitted from the frame.
type Envelope struct {
	Type         MessageType `json:"type"`
	Data         *Document   `json:"data,omitempty"`
	LastModified int64       `json:"lastModified,omitempty"`
	Version      int64       `json:"version,omitempty"`
	Message      string      `json:"message,omitempty"`
	Clients      int         `json:"clients,omitempty"`
	Source       string      `json:"source,omitempty"`
	Timestamp    int64       `json:"timestamp,omitempty"`
}

// Inbound is the lenient first-pass decode of a client frame. Data is kept
// raw so a bad payload can be answered with an ERROR envelope instead of
// tearing the connection down.
type Inbound struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Now is the envelope timestamp convention: milliseconds since epoch.
func Now() int64 {
	return time.Now().UnixMilli()
}
