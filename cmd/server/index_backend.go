package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"fogfield.dev/internal/persistence/indexdb"
	"fogfield.dev/internal/sim/tuning"
	"fogfield.dev/internal/sim/world"
)

type runtimeIndex interface {
	world.TickLogger
	Close() error
}

// runRecorder is implemented by backends that keep a run header.
type runRecorder interface {
	RecordRun(worldID string, tune tuning.Tuning) error
}

func openRuntimeIndex(worldDir, worldID, runID string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("FOG_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(worldDir, "index", "world.sqlite")
		idx, err := indexdb.OpenSQLite(dbPath, runID)
		if err != nil {
			return nil, err
		}
		return idx, nil
	case "ingest":
		endpoint := strings.TrimSpace(os.Getenv("FOG_INDEX_INGEST_URL"))
		token := strings.TrimSpace(os.Getenv("FOG_INDEX_INGEST_TOKEN"))
		if endpoint == "" {
			return nil, fmt.Errorf("FOG_INDEX_BACKEND=ingest but FOG_INDEX_INGEST_URL is empty")
		}
		flushMS := envInt("FOG_INDEX_INGEST_FLUSH_MS", 500)
		batchSize := envInt("FOG_INDEX_INGEST_BATCH_SIZE", 128)
		idx, err := indexdb.OpenIngest(indexdb.IngestConfig{
			Endpoint:      endpoint,
			Token:         token,
			WorldID:       worldID,
			RunID:         runID,
			BatchSize:     batchSize,
			FlushInterval: time.Duration(flushMS) * time.Millisecond,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	case "kafka":
		brokers := strings.Split(os.Getenv("FOG_INDEX_KAFKA_BROKERS"), ",")
		idx, err := indexdb.OpenKafka(indexdb.KafkaConfig{
			Brokers:       brokers,
			Topic:         strings.TrimSpace(os.Getenv("FOG_INDEX_KAFKA_TOPIC")),
			WorldID:       worldID,
			RunID:         runID,
			BatchSize:     envInt("FOG_INDEX_KAFKA_BATCH_SIZE", 256),
			FlushInterval: time.Duration(envInt("FOG_INDEX_KAFKA_FLUSH_MS", 250)) * time.Millisecond,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported FOG_INDEX_BACKEND: %s", backend)
	}
}

func envInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

type multiTickLogger struct {
	a world.TickLogger
	b world.TickLogger
}

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}
