package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"fogfield.dev/internal/persistence/logmirror"
)

// openLogMirror returns nil when FOG_LOG_MIRROR_ENDPOINT is unset.
func openLogMirror(dataDir string, logger *log.Logger) (*logmirror.Mirror, error) {
	endpoint := strings.TrimSpace(os.Getenv("FOG_LOG_MIRROR_ENDPOINT"))
	if endpoint == "" {
		return nil, nil
	}
	up, err := logmirror.NewS3Uploader(logmirror.S3Config{
		Endpoint:        endpoint,
		Bucket:          os.Getenv("FOG_LOG_MIRROR_BUCKET"),
		AccessKeyID:     os.Getenv("FOG_LOG_MIRROR_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("FOG_LOG_MIRROR_SECRET_ACCESS_KEY"),
		Region:          strings.TrimSpace(os.Getenv("FOG_LOG_MIRROR_REGION")),
		UseSSL:          envBool("FOG_LOG_MIRROR_SSL", true),
	})
	if err != nil {
		return nil, fmt.Errorf("log mirror: %w", err)
	}
	return logmirror.New(up, logmirror.Config{
		DataDir:       dataDir,
		Prefix:        strings.TrimSpace(os.Getenv("FOG_LOG_MIRROR_PREFIX")),
		Workers:       envInt("FOG_LOG_MIRROR_WORKERS", 1),
		QueueCapacity: envInt("FOG_LOG_MIRROR_QUEUE_CAPACITY", 256),
		Logger:        logger,
	}), nil
}
