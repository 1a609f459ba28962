package indexdb

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"fogfield.dev/internal/sim/world"
)

func TestIngestIndex_RetainsBatchOnFlushFailure(t *testing.T) {
	var mu sync.Mutex
	reqCount := 0
	applied := 0
	token := ""

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqCount++
		thisReq := reqCount
		token = r.Header.Get("x-fog-index-token")
		mu.Unlock()

		if thisReq <= 3 {
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}

		var body struct {
			Events []ingestEvent `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		mu.Lock()
		applied += len(body.Events)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	idx, err := OpenIngest(IngestConfig{
		Endpoint:      srv.URL,
		Token:         "secret",
		WorldID:       "fog",
		RunID:         "run-1",
		BatchSize:     1,
		FlushInterval: 20 * time.Millisecond,
		HTTPTimeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("OpenIngest: %v", err)
	}
	defer func() { _ = idx.Close() }()

	if err := idx.WriteTick(world.TickLogEntry{Tick: 123, Digest: "abc"}); err != nil {
		t.Fatalf("WriteTick: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := applied >= 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	finalApplied := applied
	finalReqCount := reqCount
	gotToken := token
	mu.Unlock()

	if finalApplied < 1 {
		t.Fatalf("expected retained batch to be eventually delivered; applied=%d reqCount=%d", finalApplied, finalReqCount)
	}
	if gotToken != "secret" {
		t.Fatalf("token header=%q", gotToken)
	}
	st := idx.Stats()
	if st.FlushFailTotal == 0 {
		t.Fatalf("expected flush failures to be recorded, got 0")
	}
	if st.QueueDroppedTotal != 0 {
		t.Fatalf("unexpected queue drops: %d", st.QueueDroppedTotal)
	}
}

func TestOpenIngest_Validates(t *testing.T) {
	if _, err := OpenIngest(IngestConfig{WorldID: "fog"}); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
	if _, err := OpenIngest(IngestConfig{Endpoint: "http://127.0.0.1:1"}); err == nil {
		t.Fatalf("expected error for empty world id")
	}
}
