package indexdb

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"fogfield.dev/internal/sim/world"
)

// messageWriter is the subset of *kafka.Writer used by KafkaIndex.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers       []string
	Topic         string
	WorldID       string
	RunID         string
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
	Logger        *log.Logger
}

// KafkaIndex publishes fog events (tick summaries, discoveries, evictions and
// provider sessions) to a Kafka topic keyed by world id.
type KafkaIndex struct {
	cfg KafkaConfig
	w   messageWriter

	ch   chan ingestEvent
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	queueDropped atomic.Uint64
	writeFail    atomic.Uint64
	sent         atomic.Uint64
}

type KafkaStats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueDroppedTotal uint64 `json:"queue_dropped_total"`
	WriteFailTotal    uint64 `json:"write_fail_total"`
	SentTotal         uint64 `json:"sent_total"`
}

type chunkPayload struct {
	Tick  uint64 `json:"tick"`
	Chunk [2]int `json:"chunk"`
}

type providerPayload struct {
	Tick       uint64 `json:"tick"`
	ProviderID string `json:"provider_id"`
	Name       string `json:"name,omitempty"`
}

func OpenKafka(cfg KafkaConfig) (*KafkaIndex, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers")
	}
	cfg.Brokers = brokers
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = "fogfield.events"
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaIndex(cfg, w)
}

func newKafkaIndex(cfg KafkaConfig, w messageWriter) (*KafkaIndex, error) {
	cfg.WorldID = strings.TrimSpace(cfg.WorldID)
	if cfg.WorldID == "" {
		return nil, fmt.Errorf("empty world id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 250 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	k := &KafkaIndex{
		cfg: cfg,
		w:   w,
		ch:  make(chan ingestEvent, 32768),
	}
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.loop()
	}()
	return k, nil
}

func (k *KafkaIndex) Close() error {
	if k == nil {
		return nil
	}
	var err error
	k.once.Do(func() {
		k.closed.Store(true)
		close(k.ch)
		k.wg.Wait()
		err = k.w.Close()
	})
	return err
}

func (k *KafkaIndex) WriteTick(entry world.TickLogEntry) error {
	if k == nil || k.closed.Load() {
		return nil
	}
	ev := func(kind string, payload any) ingestEvent {
		return ingestEvent{Kind: kind, WorldID: k.cfg.WorldID, RunID: k.cfg.RunID, Payload: payload}
	}
	for _, j := range entry.Joins {
		k.enqueue(ev("provider_join", providerPayload{Tick: entry.Tick, ProviderID: j.ProviderID, Name: j.Name}))
	}
	for _, id := range entry.Leaves {
		k.enqueue(ev("provider_leave", providerPayload{Tick: entry.Tick, ProviderID: id}))
	}
	for _, c := range entry.NewlyExplored {
		k.enqueue(ev("explored", chunkPayload{Tick: entry.Tick, Chunk: c}))
	}
	for _, c := range entry.Evicted {
		k.enqueue(ev("evicted", chunkPayload{Tick: entry.Tick, Chunk: c}))
	}
	k.enqueue(ev("tick", ingestTickPayload{
		Tick:          entry.Tick,
		Time:          entry.Time,
		Active:        entry.Active,
		Visible:       entry.Visible,
		Explored:      entry.Explored,
		NewlyExplored: len(entry.NewlyExplored),
		Evicted:       len(entry.Evicted),
		Providers:     len(entry.Providers),
		Digest:        entry.Digest,
	}))
	return nil
}

func (k *KafkaIndex) Stats() KafkaStats {
	if k == nil {
		return KafkaStats{}
	}
	return KafkaStats{
		QueueDepth:        len(k.ch),
		QueueDroppedTotal: k.queueDropped.Load(),
		WriteFailTotal:    k.writeFail.Load(),
		SentTotal:         k.sent.Load(),
	}
}

func (k *KafkaIndex) enqueue(ev ingestEvent) {
	select {
	case k.ch <- ev:
	default:
		k.queueDropped.Add(1)
	}
}

func (k *KafkaIndex) loop() {
	ticker := time.NewTicker(k.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]kafka.Message, 0, k.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), k.cfg.WriteTimeout)
		err := k.w.WriteMessages(ctx, batch...)
		cancel()
		if err != nil {
			k.writeFail.Add(1)
			k.printf("kafka index: write %d messages: %v", len(batch), err)
		} else {
			k.sent.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-k.ch:
			if !ok {
				flush()
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			batch = append(batch, kafka.Message{Key: []byte(k.cfg.WorldID), Value: b})
			if len(batch) >= k.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (k *KafkaIndex) printf(format string, args ...any) {
	if k.cfg.Logger != nil {
		k.cfg.Logger.Printf(format, args...)
	}
}
