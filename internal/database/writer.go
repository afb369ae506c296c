package database

import (
	"context"

	"can-bus-simulator/internal/models"
)

// Writer defines the interface for frame sinks
type Writer interface {
	// Start begins processing and writing frames
	Start()

	// Write queues a frame for writing
	Write(frame models.AnnotatedFrame)

	// Close flushes pending frames and releases resources
	Close() error
}

// Archive reads frames back from a sink that stores them
type Archive interface {
	QueryFrames(ctx context.Context, params models.QueryParams) ([]models.ArchivedFrame, error)
	CountFrames(ctx context.Context, params models.QueryParams) (uint64, error)
	IDStats(ctx context.Context, params models.QueryParams) ([]models.ArchivedIDStats, error)
}
