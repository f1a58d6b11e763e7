package portal

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/brojonat/lazorpass/service/wallet"
)

// MessageType identifies a message posted by the portal window.
type MessageType string

const (
	MessageConnectSuccess MessageType = "connect_success"
	MessageConnectError   MessageType = "connect_error"
	MessageHeartbeat      MessageType = "heartbeat"
	MessageClosed         MessageType = "closed"
)

// maxMessageBytes bounds a single portal message body.
const maxMessageBytes = 64 << 10

// Message is one message posted by the portal. Origin is filled in by the
// transport from the request headers and is never read from the body.
type Message struct {
	Type   MessageType  `json:"type"`
	Data   *ConnectData `json:"data,omitempty"`
	Error  string       `json:"error,omitempty"`
	Origin string       `json:"-"`
}

// ConnectData is the payload of a connect_success message.
type ConnectData struct {
	SmartWallet   string `json:"smartWallet"`
	PasskeyPubkey string `json:"passkeyPubkey"` // base64
	CredentialID  string `json:"credentialId,omitempty"`
}

// DecodeMessage reads a JSON portal message from r.
func DecodeMessage(r io.Reader) (*Message, error) {
	var msg Message
	dec := json.NewDecoder(io.LimitReader(r, maxMessageBytes))
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("decode portal message: %w", err)
	}
	switch msg.Type {
	case MessageConnectSuccess, MessageConnectError, MessageHeartbeat, MessageClosed:
	default:
		return nil, fmt.Errorf("unknown portal message type %q", msg.Type)
	}
	return &msg, nil
}

// Identity converts a connect_success payload into a wallet identity.
func (m *Message) Identity(connectedAt time.Time) (*wallet.Identity, error) {
	if m.Data == nil || m.Data.SmartWallet == "" {
		return nil, fmt.Errorf("connect_success message missing smartWallet")
	}
	var raw []byte
	if m.Data.PasskeyPubkey != "" {
		b, err := base64.StdEncoding.DecodeString(m.Data.PasskeyPubkey)
		if err != nil {
			return nil, fmt.Errorf("decode passkeyPubkey: %w", err)
		}
		raw = b
	}
	return wallet.NewIdentity(m.Data.SmartWallet, raw, m.Data.CredentialID, connectedAt)
}

// failureReason returns the reason carried by a connect_error message.
func (m *Message) failureReason() string {
	if m.Error != "" {
		return m.Error
	}
	return "portal reported an error"
}
