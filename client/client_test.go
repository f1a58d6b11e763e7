package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	testDest   = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	testSig    = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestConnect_Success(t *testing.T) {
	deadline := time.Now().Add(5 * time.Minute).UTC().Truncate(time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/session/connect", r.URL.Path)

		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"request_id":   "req-1",
			"portal_url":   "https://portal.lazor.sh/connect?request_id=req-1",
			"qr_code_data": "iVBORw0KGgo=",
			"deadline":     deadline,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	req, err := client.Connect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "req-1", req.RequestID)
	assert.Contains(t, req.PortalURL, "request_id=req-1")
	assert.Equal(t, "iVBORw0KGgo=", req.QRCodeData)
	assert.True(t, deadline.Equal(req.Deadline))
}

func TestConnect_InProgress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "operation already in progress",
			"code":  "in_progress",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Connect(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "in_progress", apiErr.Code)
	assert.Equal(t, "in_progress", ErrorCode(err))
	assert.Contains(t, err.Error(), "operation already in progress")
}

func TestWaitConnected(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/session", r.URL.Path)
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusOK, map[string]string{"state": "connecting"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"state": "connected",
			"identity": map[string]interface{}{
				"address":      testWallet,
				"connected_at": time.Now(),
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	s, err := client.WaitConnected(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, s.Connected())
	assert.Equal(t, testWallet, s.Identity.Address)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWaitConnected_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"state":           "disconnected",
			"last_error":      "authentication cancelled",
			"last_error_code": "authentication_cancelled",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	s, err := client.WaitConnected(context.Background(), 10*time.Millisecond)
	require.Error(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "disconnected", s.State)
	assert.Equal(t, "authentication_cancelled", ErrorCode(err))
}

func TestWaitConnected_FailedReconnect(t *testing.T) {
	// The earlier identity survives a failed reconnect, but the failure
	// must still reach the caller.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"state": "connected",
			"identity": map[string]interface{}{
				"address":      testWallet,
				"connected_at": time.Now(),
			},
			"last_error":      "passkey authentication cancelled",
			"last_error_code": "authentication_cancelled",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	s, err := client.WaitConnected(context.Background(), 10*time.Millisecond)
	require.Error(t, err)
	require.NotNil(t, s)
	assert.True(t, s.Connected())
	assert.Equal(t, "authentication_cancelled", ErrorCode(err))
	assert.Contains(t, err.Error(), "passkey authentication cancelled")
}

func TestWaitConnected_ContextDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"state": "connecting"})
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(server.URL, nil, nil)
	_, err := client.WaitConnected(ctx, 10*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDisconnect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "/api/v1/session", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	assert.NoError(t, client.Disconnect(context.Background()))
}

func TestBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/balance", r.URL.Path)
		assert.Equal(t, "USDC", r.URL.Query().Get("token"))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"address":  testWallet,
			"lamports": 1500000000,
			"sol":      1.5,
			"token": map[string]interface{}{
				"symbol":    "USDC",
				"amount":    2500000,
				"ui_amount": 2.5,
				"decimals":  6,
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	bal, err := client.Balance(context.Background(), "USDC")
	require.NoError(t, err)

	assert.Equal(t, uint64(1500000000), bal.Lamports)
	assert.Equal(t, 1.5, bal.SOL)
	require.NotNil(t, bal.Token)
	assert.Equal(t, "USDC", bal.Token.Symbol)
	assert.Equal(t, 2.5, bal.Token.UIAmount)
	assert.Equal(t, uint8(6), bal.Token.Decimals)
}

func TestBalance_NotConnected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "wallet not connected",
			"code":  "not_connected",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Balance(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, "not_connected", ErrorCode(err))
}

func TestSendTransfer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/transfers", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testDest, body["to"])
		assert.Equal(t, 0.1, body["amount"])
		assert.Equal(t, "SOL", body["token"])

		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"signature": testSig,
			"kind":      "transfer",
			"from":      testWallet,
			"to":        testDest,
			"amount":    100000000,
			"ui_amount": 0.1,
			"token":     "SOL",
			"status":    "pending",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	tr, err := client.SendTransfer(context.Background(), testDest, 0.1, "SOL")
	require.NoError(t, err)

	assert.Equal(t, testSig, tr.Signature)
	assert.Equal(t, uint64(100000000), tr.Amount)
	assert.Equal(t, "pending", tr.Status)
	assert.False(t, tr.Settled())
}

func TestSendTransfer_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   map[string]string
		code   string
		msg    string
	}{
		{
			name:   "invalid amount",
			status: http.StatusBadRequest,
			body:   map[string]string{"error": "invalid amount", "code": "invalid_amount"},
			code:   "invalid_amount",
			msg:    "invalid amount",
		},
		{
			name:   "network error",
			status: http.StatusBadGateway,
			body:   map[string]string{"error": "network error: rpc down", "code": "network_error"},
			code:   "network_error",
			msg:    "rpc down",
		},
		{
			name:   "no json body",
			status: http.StatusInternalServerError,
			code:   "",
			msg:    "HTTP 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.body == nil {
					w.WriteHeader(tt.status)
					return
				}
				writeJSON(w, tt.status, tt.body)
			}))
			defer server.Close()

			client := NewClient(server.URL, nil, nil)
			_, err := client.SendTransfer(context.Background(), testDest, 1, "SOL")
			require.Error(t, err)
			assert.Equal(t, tt.code, ErrorCode(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestGetTransfer_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transfers/"+testSig, r.URL.Path)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "transfer not found"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.GetTransfer(context.Background(), testSig)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "transfer not found")
}

func TestListTransfers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transfers", r.URL.Path)
		assert.Equal(t, testWallet, r.URL.Query().Get("wallet"))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"transfers": []map[string]interface{}{
				{"signature": "sig-2", "status": "pending"},
				{"signature": "sig-1", "status": "confirmed", "slot": 42},
			},
			"count": 2,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	transfers, err := client.ListTransfers(context.Background(), testWallet)
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	assert.Equal(t, "sig-2", transfers[0].Signature)
	assert.True(t, transfers[1].Settled())
	assert.Equal(t, uint64(42), transfers[1].Slot)
}

func TestAwaitTransfer(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := "pending"
		if calls.Add(1) >= 3 {
			status = "confirmed"
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"signature": testSig,
			"status":    status,
			"slot":      99,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	tr, err := client.AwaitTransfer(context.Background(), testSig, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "confirmed", tr.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAwaitTransfer_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"signature": testSig,
			"status":    "pending",
		})
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(server.URL, nil, nil)
	tr, err := client.AwaitTransfer(ctx, testSig, 10*time.Millisecond)
	require.Error(t, err)
	require.NotNil(t, tr, "last seen transfer is returned on timeout")
	assert.Equal(t, "pending", tr.Status)
}

func TestSwapQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/swap/quote", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "SOL", q.Get("from"))
		assert.Equal(t, "USDC", q.Get("to"))
		assert.Equal(t, "0.5", q.Get("amount"))
		assert.Equal(t, "100", q.Get("slippage_bps"))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"in_amount":     500000000,
			"out_amount":    75000000,
			"ui_out_amount": 75.0,
			"slippage_bps":  100,
			"routes":        []string{"Orca"},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	quote, err := client.SwapQuote(context.Background(), "SOL", "USDC", 0.5, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(500000000), quote.InAmount)
	assert.Equal(t, 75.0, quote.UIOutAmount)
	assert.Equal(t, []string{"Orca"}, quote.Routes)
}

func TestSwap_DefaultSlippage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/swaps", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, hasSlippage := body["slippage_bps"]
		assert.False(t, hasSlippage)

		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"signature": testSig,
			"kind":      "swap",
			"status":    "pending",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	tr, err := client.Swap(context.Background(), "SOL", "USDC", 0.5, -1)
	require.NoError(t, err)
	assert.Equal(t, "swap", tr.Kind)
}

func TestHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/history", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"address": testWallet,
			"transactions": []map[string]interface{}{
				{"signature": "sig-1", "amount": 1000, "memo": "hello"},
			},
			"count": 1,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	txns, err := client.History(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	require.NotNil(t, txns[0].Memo)
	assert.Equal(t, "hello", *txns[0].Memo)
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "v1.2.3",
			"network": "devnet",
			"signer":  "stub",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	h, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "stub", h.Signer)
}
