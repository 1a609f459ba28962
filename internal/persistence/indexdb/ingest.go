package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fogfield.dev/internal/sim/world"
)

// IngestConfig configures the remote tick-summary sink.
type IngestConfig struct {
	Endpoint      string
	Token         string
	WorldID       string
	RunID         string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	// MaxRetained bounds events kept across failed flushes.
	MaxRetained int
	Logger      *log.Logger
}

// IngestIndex posts batched tick summaries to an HTTP endpoint from its own
// goroutine. Failed batches are retained and retried on the next flush.
type IngestIndex struct {
	cfg        IngestConfig
	httpClient *http.Client

	ch   chan ingestEvent
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	queueDropped atomic.Uint64
	flushFail    atomic.Uint64
	sent         atomic.Uint64
}

type ingestEvent struct {
	Kind    string `json:"kind"`
	WorldID string `json:"world_id"`
	RunID   string `json:"run_id"`
	Payload any    `json:"payload"`
}

type ingestTickPayload struct {
	Tick          uint64  `json:"tick"`
	Time          float64 `json:"time"`
	Active        int     `json:"active"`
	Visible       int     `json:"visible"`
	Explored      int     `json:"explored"`
	NewlyExplored int     `json:"newly_explored"`
	Evicted       int     `json:"evicted"`
	Providers     int     `json:"providers"`
	Digest        string  `json:"digest"`
}

type IngestStats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueDroppedTotal uint64 `json:"queue_dropped_total"`
	FlushFailTotal    uint64 `json:"flush_fail_total"`
	SentTotal         uint64 `json:"sent_total"`
}

func OpenIngest(cfg IngestConfig) (*IngestIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.WorldID = strings.TrimSpace(cfg.WorldID)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty ingest endpoint")
	}
	if cfg.WorldID == "" {
		return nil, fmt.Errorf("empty world id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = 8192
	}

	d := &IngestIndex{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan ingestEvent, 32768),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

func (d *IngestIndex) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *IngestIndex) WriteTick(entry world.TickLogEntry) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	d.enqueue(ingestEvent{Kind: "tick", WorldID: d.cfg.WorldID, RunID: d.cfg.RunID, Payload: ingestTickPayload{
		Tick:          entry.Tick,
		Time:          entry.Time,
		Active:        entry.Active,
		Visible:       entry.Visible,
		Explored:      entry.Explored,
		NewlyExplored: len(entry.NewlyExplored),
		Evicted:       len(entry.Evicted),
		Providers:     len(entry.Providers),
		Digest:        entry.Digest,
	}})
	return nil
}

func (d *IngestIndex) Stats() IngestStats {
	if d == nil {
		return IngestStats{}
	}
	return IngestStats{
		QueueDepth:        len(d.ch),
		QueueDroppedTotal: d.queueDropped.Load(),
		FlushFailTotal:    d.flushFail.Load(),
		SentTotal:         d.sent.Load(),
	}
}

func (d *IngestIndex) enqueue(ev ingestEvent) {
	select {
	case d.ch <- ev:
	default:
		d.queueDropped.Add(1)
	}
}

func (d *IngestIndex) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]ingestEvent, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFail.Add(1)
			d.printf("ingest flush failed batch=%d err=%v", len(batch), err)
			if over := len(batch) - d.cfg.MaxRetained; over > 0 {
				batch = append(batch[:0], batch[over:]...)
				d.queueDropped.Add(uint64(over))
			}
			return
		}
		d.sent.Add(uint64(len(batch)))
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *IngestIndex) sendBatch(events []ingestEvent) error {
	body := struct {
		Events []ingestEvent `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json")
	if d.cfg.Token != "" {
		req.Header.Set("x-fog-index-token", d.cfg.Token)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

func (d *IngestIndex) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
