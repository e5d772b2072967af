package client

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/honuKdestine/kingflex-programmable-ussd-app/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedService answers "response" until the third request, then releases
func scriptedService(t *testing.T, seen *[]server.InteractionRequest) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req server.InteractionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*seen = append(*seen, req)

		kind := "response"
		if len(*seen) == 3 {
			kind = "release"
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(server.InteractionResponse{
			SessionID: req.SessionID,
			Type:      kind,
			Label:     req.Message,
		})
	}))
}

func TestRunStopsAtTerminalReply(t *testing.T) {
	var seen []server.InteractionRequest
	srv := scriptedService(t, &seen)
	defer srv.Close()

	sim := NewSimulator(srv.URL, 5*time.Second)
	results, err := sim.Run(context.Background(), "sess-sim", "233551234567", PurchaseScript(2, "Jane Doe", "0551234567"))
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, "release", results[2].Response.Type)
	require.Len(t, seen, 3)
	assert.Equal(t, "Initiation", seen[0].Type)
	assert.Equal(t, "2", seen[2].Message)
	for i, req := range seen {
		assert.Equal(t, "sess-sim", req.SessionID)
		assert.Equal(t, "233551234567", req.Mobile)
		assert.Equal(t, i+1, req.Sequence)
	}
}

func TestRunReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	results, err := NewSimulator(srv.URL, time.Second).Run(context.Background(), "sess", "", RecoveryScript("Jane", "055"))
	assert.Error(t, err)
	assert.Empty(t, results)
}

func TestFulfill(t *testing.T) {
	var got server.FulfillmentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fulfillment", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	status, err := NewSimulator(srv.URL, time.Second).Fulfill(context.Background(), "sess-1", "ORD-1", "Paid")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "Paid", got.OrderInfo.Status)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	results := []StepResult{
		{Step: Step{Name: "Dial"}, Sequence: 1, Latency: 12 * time.Millisecond, Response: server.InteractionResponse{Type: "response", Label: "Main Menu"}},
	}
	require.NoError(t, WriteCSV(&buf, 4, results))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"4", "Dial", "1", "response", "Main Menu", "12"}}, records)
	assert.Len(t, CSVHeader, len(records[0]))
}
