package main

import (
	"bytes"
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

// run executes the CLI against serverURL and returns what it printed.
func run(t *testing.T, serverURL string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"lazorpass", "--server-url", serverURL}, args...))
	return out.String(), err
}

func respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func transferBody(status string) map[string]interface{} {
	return map[string]interface{}{
		"signature": testSig,
		"kind":      "transfer",
		"from":      testWallet,
		"to":        testDest,
		"amount":    100000000,
		"ui_amount": 0.1,
		"token":     "SOL",
		"status":    status,
	}
}

func TestHealthCommand_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		respond(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "v0.3.0",
			"network": "devnet",
			"signer":  "paymaster",
		})
	}))
	defer server.Close()

	out, err := run(t, server.URL, "server", "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Server is healthy")
	assert.Contains(t, out, "paymaster")
}

func TestHealthCommand_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := run(t, server.URL, "server", "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")
}

func TestHealthCommand_MissingServerURL(t *testing.T) {
	_, err := run(t, "", "server", "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server-url is required")
}

func TestVersionCommand(t *testing.T) {
	version = "1.0.0"
	commit = "abc123"
	date = "2026-10-10"

	out, err := run(t, "http://unused", "server", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: 1.0.0")
	assert.Contains(t, out, "Commit:  abc123")
}

func TestConnectCommand(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/session/connect", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusAccepted, map[string]interface{}{
			"request_id": "req-1",
			"portal_url": "https://portal.lazor.sh/connect?request_id=req-1",
			"deadline":   time.Now().Add(time.Minute),
		})
	})
	mux.HandleFunc("GET /api/v1/session", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 2 {
			respond(w, http.StatusOK, map[string]string{"state": "connecting"})
			return
		}
		respond(w, http.StatusOK, map[string]interface{}{
			"state":    "connected",
			"identity": map[string]string{"address": testWallet},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	out, err := run(t, server.URL, "connect", "--open=false", "--qr=false", "--poll-interval", "10ms")
	require.NoError(t, err)
	assert.Contains(t, out, "https://portal.lazor.sh/connect?request_id=req-1")
	assert.Contains(t, out, "Connected: "+testWallet)
	assert.Equal(t, int32(2), polls.Load())
}

func TestConnectCommand_Cancelled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/session/connect", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusAccepted, map[string]interface{}{
			"request_id": "req-1",
			"portal_url": "https://portal.lazor.sh/connect?request_id=req-1",
			"deadline":   time.Now().Add(time.Minute),
		})
	})
	mux.HandleFunc("GET /api/v1/session", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]string{
			"state":           "disconnected",
			"last_error":      "authentication cancelled",
			"last_error_code": "authentication_cancelled",
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	_, err := run(t, server.URL, "connect", "--open=false", "--qr=false", "--poll-interval", "10ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication cancelled")
}

func TestConnectCommand_FailedReconnect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/session/connect", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusAccepted, map[string]interface{}{
			"request_id": "req-2",
			"portal_url": "https://portal.lazor.sh/connect?request_id=req-2",
			"deadline":   time.Now().Add(time.Minute),
		})
	})
	mux.HandleFunc("GET /api/v1/session", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]interface{}{
			"state":           "connected",
			"identity":        map[string]string{"address": testWallet},
			"last_error":      "passkey authentication failed: passkey rejected",
			"last_error_code": "authentication_failed",
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	out, err := run(t, server.URL, "connect", "--open=false", "--qr=false", "--poll-interval", "10ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "passkey rejected")
	assert.NotContains(t, out, "Connected: ")
}

func TestStatusCommand_JSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/session", r.URL.Path)
		respond(w, http.StatusOK, map[string]interface{}{
			"state":    "connected",
			"identity": map[string]string{"address": testWallet},
		})
	}))
	defer server.Close()

	out, err := run(t, server.URL, "--json", "status")
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "connected", got["state"])
}

func TestSendCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/transfers", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testDest, body["to"])
		assert.Equal(t, 0.1, body["amount"])
		assert.Equal(t, "SOL", body["token"])

		respond(w, http.StatusCreated, transferBody("pending"))
	}))
	defer server.Close()

	out, err := run(t, server.URL, "send", testDest, "0.1")
	require.NoError(t, err)
	assert.Contains(t, out, testSig)
	assert.Contains(t, out, "pending")
}

func TestSendCommand_Wait(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/transfers", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusCreated, transferBody("pending"))
	})
	mux.HandleFunc("GET /api/v1/transfers/{signature}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testSig, r.PathValue("signature"))
		status := "pending"
		if polls.Add(1) >= 2 {
			status = "confirmed"
		}
		respond(w, http.StatusOK, transferBody(status))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	out, err := run(t, server.URL, "send", "--wait", "--poll-interval", "10ms", testDest, "0.1")
	require.NoError(t, err)
	assert.Contains(t, out, "transfer confirmed")
}

func TestSendCommand_WaitTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/transfers", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusCreated, transferBody("pending"))
	})
	mux.HandleFunc("GET /api/v1/transfers/{signature}", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, transferBody("pending"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	out, err := run(t, server.URL, "send", "--wait", "--wait-timeout", "50ms", "--poll-interval", "10ms", testDest, "0.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still pending")
	assert.Contains(t, out, testSig)
}

func TestSendCommand_Failed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/transfers", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusCreated, transferBody("pending"))
	})
	mux.HandleFunc("GET /api/v1/transfers/{signature}", func(w http.ResponseWriter, r *http.Request) {
		body := transferBody("failed")
		body["error"] = "insufficient lamports"
		respond(w, http.StatusOK, body)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	_, err := run(t, server.URL, "send", "--wait", "--poll-interval", "10ms", testDest, "0.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient lamports")
}

func TestSendCommand_ArgErrors(t *testing.T) {
	var called atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
	}))
	defer server.Close()

	_, err := run(t, server.URL, "send", testDest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "destination address and amount are required")

	_, err = run(t, server.URL, "send", testDest, "lots")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid amount")

	assert.False(t, called.Load())
}

func TestSendCommand_ServerRejects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusUnauthorized, map[string]string{
			"error": "wallet not connected",
			"code":  "not_connected",
		})
	}))
	defer server.Close()

	_, err := run(t, server.URL, "send", testDest, "0.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_connected")
}

func TestListTransfersCommand_JQFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transfers", r.URL.Path)
		respond(w, http.StatusOK, map[string]interface{}{
			"transfers": []map[string]interface{}{
				{"signature": "sig-3", "status": "failed", "kind": "transfer"},
				{"signature": "sig-2", "status": "confirmed", "kind": "swap"},
				{"signature": "sig-1", "status": "failed", "kind": "swap"},
			},
			"count": 3,
		})
	}))
	defer server.Close()

	out, err := run(t, server.URL, "--json", "transfers", "list", "--must-jq", `.status == "failed"`, "--must-jq", `.kind == "swap"`)
	require.NoError(t, err)

	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "sig-1", got[0]["signature"])
}

func TestSwapQuoteCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/swap/quote", r.URL.Path)
		assert.Equal(t, "", r.URL.Query().Get("slippage_bps"))
		respond(w, http.StatusOK, map[string]interface{}{
			"ui_in_amount":     0.5,
			"ui_out_amount":    75.25,
			"min_out_amount":   74875000,
			"slippage_bps":     50,
			"price_impact_pct": "0.01",
			"routes":           []string{"Orca", "Raydium"},
		})
	}))
	defer server.Close()

	out, err := run(t, server.URL, "swap", "quote", "SOL", "USDC", "0.5")
	require.NoError(t, err)
	assert.Contains(t, out, "0.5 SOL → 75.25 USDC")
	assert.Contains(t, out, "Orca → Raydium")
}

func TestHistoryCommand_LimitValidation(t *testing.T) {
	_, err := run(t, "http://unused", "history", "--limit", "500")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit must be between 1 and 100")
}
