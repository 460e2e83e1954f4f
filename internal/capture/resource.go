package capture

import (
	"context"
	"fmt"
	"io"
)

// ResourceManager bounds concurrent fetches and response body sizes
type ResourceManager struct {
	semaphore   chan struct{}
	maxBodySize int64
}

// NewResourceManager creates a new resource manager
func NewResourceManager(maxConcurrent int, maxBodySize int64) *ResourceManager {
	return &ResourceManager{
		semaphore:   make(chan struct{}, maxConcurrent),
		maxBodySize: maxBodySize,
	}
}

// Acquire claims a fetch slot, waiting until one frees or the context ends
func (rm *ResourceManager) Acquire(ctx context.Context) error {
	select {
	case rm.semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for capture slot: %w", ctx.Err())
	}
}

// Release frees a fetch slot
func (rm *ResourceManager) Release() {
	<-rm.semaphore
}

// ReadBody reads a response body under the size limit
func (rm *ResourceManager) ReadBody(body io.Reader) ([]byte, error) {
	limitedReader := io.LimitReader(body, rm.maxBodySize)
	data, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	if int64(len(data)) >= rm.maxBodySize {
		return nil, fmt.Errorf("response body too large (max %d bytes)", rm.maxBodySize)
	}

	return data, nil
}
