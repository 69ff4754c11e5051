package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	markerRaw  byte = 0
	markerZstd byte = 1

	// DefaultCompressMinSize is the smallest value worth compressing
	DefaultCompressMinSize = 1024
)

// CompressedCache stores values zstd-compressed in an inner cache. Values
// shorter than minSize are stored as-is behind a one byte marker.
type CompressedCache struct {
	inner   Cache
	minSize int
	enc     *zstd.Encoder
	dec     *zstd.Decoder
}

// NewCompressedCache wraps inner
func NewCompressedCache(inner Cache, minSize int) (*CompressedCache, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &CompressedCache{
		inner:   inner,
		minSize: minSize,
		enc:     enc,
		dec:     dec,
	}, nil
}

// Get retrieves and decompresses a value
func (c *CompressedCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok, err := c.inner.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	if len(raw) == 0 {
		return nil, false, fmt.Errorf("cache entry %s: missing marker", key)
	}

	switch raw[0] {
	case markerRaw:
		return raw[1:], true, nil
	case markerZstd:
		value, err := c.dec.DecodeAll(raw[1:], nil)
		if err != nil {
			return nil, false, fmt.Errorf("cache entry %s: %w", key, err)
		}
		return value, true, nil
	default:
		return nil, false, fmt.Errorf("cache entry %s: unknown marker %d", key, raw[0])
	}
}

// Set compresses value when it is at least minSize bytes
func (c *CompressedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var stored []byte
	if len(value) >= c.minSize {
		stored = c.enc.EncodeAll(value, []byte{markerZstd})
	} else {
		stored = append([]byte{markerRaw}, value...)
	}
	return c.inner.Set(ctx, key, stored, ttl)
}

// Delete removes a value
func (c *CompressedCache) Delete(ctx context.Context, key string) error {
	return c.inner.Delete(ctx, key)
}

// Close releases the codecs and closes the inner cache
func (c *CompressedCache) Close() error {
	c.dec.Close()
	err := c.enc.Close()
	if innerErr := c.inner.Close(); innerErr != nil {
		return innerErr
	}
	return err
}
