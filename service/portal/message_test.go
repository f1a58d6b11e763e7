package portal

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/lazorpass/service/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    MessageType
		wantErr bool
	}{
		{"success", `{"type":"connect_success","data":{"smartWallet":"x"}}`, MessageConnectSuccess, false},
		{"error", `{"type":"connect_error","error":"denied"}`, MessageConnectError, false},
		{"heartbeat", `{"type":"heartbeat"}`, MessageHeartbeat, false},
		{"closed", `{"type":"closed"}`, MessageClosed, false},
		{"unknown type", `{"type":"other"}`, "", true},
		{"missing type", `{}`, "", true},
		{"garbage", `<html>`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage(strings.NewReader(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Type)
		})
	}
}

func TestDecodeMessage_IgnoresBodyOrigin(t *testing.T) {
	msg, err := DecodeMessage(strings.NewReader(`{"type":"heartbeat","Origin":"https://portal.lazor.sh"}`))
	require.NoError(t, err)
	assert.Empty(t, msg.Origin)
}

func TestMessageIdentity(t *testing.T) {
	addr := solana.NewWallet().PublicKey().String()
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("valid", func(t *testing.T) {
		msg := Message{Type: MessageConnectSuccess, Data: &ConnectData{
			SmartWallet:   addr,
			PasskeyPubkey: base64.StdEncoding.EncodeToString([]byte{1, 2, 3}),
			CredentialID:  "cred",
		}}
		id, err := msg.Identity(at)
		require.NoError(t, err)
		assert.Equal(t, addr, id.Address)
		assert.Equal(t, []byte{1, 2, 3}, id.RawPublicKey)
		assert.Equal(t, at, id.ConnectedAt)
	})

	t.Run("missing data", func(t *testing.T) {
		_, err := (&Message{Type: MessageConnectSuccess}).Identity(at)
		assert.Error(t, err)
	})

	t.Run("bad pubkey encoding", func(t *testing.T) {
		msg := Message{Data: &ConnectData{SmartWallet: addr, PasskeyPubkey: "%%%"}}
		_, err := msg.Identity(at)
		assert.Error(t, err)
	})

	t.Run("bad address", func(t *testing.T) {
		msg := Message{Data: &ConnectData{SmartWallet: "0OIl"}}
		_, err := msg.Identity(at)
		assert.ErrorIs(t, err, wallet.ErrInvalidAddress)
	})
}

func TestQRCodeBase64(t *testing.T) {
	data, err := QRCodeBase64("https://portal.lazor.sh/?action=connect")
	require.NoError(t, err)

	png, err := base64.StdEncoding.DecodeString(data)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(png), "\x89PNG"))
}
