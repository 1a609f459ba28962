package logmirror

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Uploader copies one local file to object storage under key.
type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type Stats struct {
	QueueDepth          int    `json:"queue_depth"`
	QueueCapacity       int    `json:"queue_capacity"`
	EnqueuedTotal       uint64 `json:"enqueued_total"`
	QueueSaturatedTotal uint64 `json:"queue_saturated_total"`
	DroppedTotal        uint64 `json:"dropped_total"`
	UploadSuccessTotal  uint64 `json:"upload_success_total"`
	UploadFailTotal     uint64 `json:"upload_fail_total"`
	LastSuccessUnix     int64  `json:"last_success_unix"`
	LastErrorUnix       int64  `json:"last_error_unix"`
}

type Config struct {
	// DataDir is the local root; object keys are paths relative to it.
	DataDir string
	Prefix  string

	Workers       int
	QueueCapacity int
	EnqueueWait   time.Duration
	MaxAttempts   int
	Logger        *log.Logger
}

// Mirror ships closed tick log segments to object storage in the background.
type Mirror struct {
	up          Uploader
	dataDir     string
	prefix      string
	logger      *log.Logger
	maxAttempts int
	backoff     func(attempt int) time.Duration

	jobs        chan string
	enqueueWait time.Duration
	wg          sync.WaitGroup

	enqueuedTotal       atomic.Uint64
	queueSaturatedTotal atomic.Uint64
	droppedTotal        atomic.Uint64
	uploadSuccessTotal  atomic.Uint64
	uploadFailTotal     atomic.Uint64
	lastSuccessUnix     atomic.Int64
	lastErrorUnix       atomic.Int64
}

func New(up Uploader, cfg Config) *Mirror {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	if cfg.EnqueueWait <= 0 {
		cfg.EnqueueWait = 25 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	m := &Mirror{
		up:          up,
		dataDir:     cfg.DataDir,
		prefix:      strings.Trim(strings.ReplaceAll(cfg.Prefix, "\\", "/"), "/"),
		logger:      cfg.Logger,
		maxAttempts: cfg.MaxAttempts,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * 200 * time.Millisecond
		},
		jobs:        make(chan string, cfg.QueueCapacity),
		enqueueWait: cfg.EnqueueWait,
	}
	for i := 0; i < cfg.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for localPath := range m.jobs {
				m.uploadOne(localPath)
			}
		}()
	}
	return m
}

// Enqueue schedules localPath for upload. It waits at most EnqueueWait for
// queue space and drops the file otherwise.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.up == nil {
		return
	}
	m.enqueuedTotal.Add(1)

	select {
	case m.jobs <- localPath:
		return
	default:
	}

	m.queueSaturatedTotal.Add(1)
	timer := time.NewTimer(m.enqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
		return
	case <-timer.C:
		dropped := m.droppedTotal.Add(1)
		m.printf("log mirror drop local=%s reason=queue_saturated wait_ms=%d dropped_total=%d", localPath, m.enqueueWait.Milliseconds(), dropped)
	}
}

// Close drains pending uploads.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(m.jobs),
		QueueCapacity:       cap(m.jobs),
		EnqueuedTotal:       m.enqueuedTotal.Load(),
		QueueSaturatedTotal: m.queueSaturatedTotal.Load(),
		DroppedTotal:        m.droppedTotal.Load(),
		UploadSuccessTotal:  m.uploadSuccessTotal.Load(),
		UploadFailTotal:     m.uploadFailTotal.Load(),
		LastSuccessUnix:     m.lastSuccessUnix.Load(),
		LastErrorUnix:       m.lastErrorUnix.Load(),
	}
}

func (m *Mirror) uploadOne(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.uploadFailTotal.Add(1)
		m.printf("log mirror skip local=%s err=%v", localPath, err)
		return
	}

	if err := m.uploadWithRetry(key, localPath); err != nil {
		m.uploadFailTotal.Add(1)
		m.lastErrorUnix.Store(time.Now().UTC().Unix())
		m.printf("log mirror upload failed key=%s local=%s err=%v", key, localPath, err)
		return
	}
	m.uploadSuccessTotal.Add(1)
	m.lastSuccessUnix.Store(time.Now().UTC().Unix())
	m.printf("log mirror uploaded key=%s", key)
}

func (m *Mirror) uploadWithRetry(key, localPath string) error {
	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < m.maxAttempts {
			time.Sleep(m.backoff(attempt))
		}
	}
	return lastErr
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}

	absBase, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside data dir %s", absLocal, absBase)
	}

	key := rel
	if m.prefix != "" {
		key = path.Join(m.prefix, key)
	}
	return key, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
