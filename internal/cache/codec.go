package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Record header bytes.
const (
	formatJSON = 'j'
	formatZstd = 'z'
)

// DefaultCompressionThreshold is the envelope size above which records are
// compressed.
const DefaultCompressionThreshold = 1024

// envelope is the serialized form of a durable entry.
type envelope struct {
	Value     json.RawMessage `json:"v"`
	CreatedAt int64           `json:"c"`
	ExpiresAt int64           `json:"e"`
}

// record is a decoded envelope whose value has not been unmarshaled yet.
type record struct {
	value     json.RawMessage
	createdAt time.Time
	expiresAt time.Time
}

func (r record) valid(now time.Time) bool {
	return !now.After(r.expiresAt)
}

// Codec turns entries into bytes for a storage.Store and back.
type Codec struct {
	threshold int
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// NewCodec creates a codec. A compressionLevel of 0 disables compression on
// write; compressed records can always be read.
func NewCodec(compressionLevel, threshold int) (*Codec, error) {
	if threshold <= 0 {
		threshold = DefaultCompressionThreshold
	}

	c := &Codec{threshold: threshold}

	if compressionLevel > 0 {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		c.encoder = enc
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	c.decoder = dec

	return c, nil
}

// Encode serializes value with its validity window.
func (c *Codec) Encode(value any, createdAt, expiresAt time.Time) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}

	body, err := json.Marshal(envelope{
		Value:     raw,
		CreatedAt: createdAt.UnixMilli(),
		ExpiresAt: expiresAt.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	// Only use compression if it actually reduces size
	if c.encoder != nil && len(body) > c.threshold {
		compressed := c.encoder.EncodeAll(body, make([]byte, 1, len(body)/2+1))
		if len(compressed) < len(body)+1 {
			compressed[0] = formatZstd
			return compressed, nil
		}
	}

	out := make([]byte, 0, len(body)+1)
	out = append(out, formatJSON)
	return append(out, body...), nil
}

// decode parses data produced by Encode.
func (c *Codec) decode(data []byte) (record, error) {
	if len(data) < 2 {
		return record{}, ErrCacheCorrupted
	}

	body := data[1:]
	switch data[0] {
	case formatJSON:
	case formatZstd:
		decompressed, err := c.decoder.DecodeAll(body, nil)
		if err != nil {
			return record{}, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
		}
		body = decompressed
	default:
		return record{}, fmt.Errorf("%w: unknown format %q", ErrCacheCorrupted, data[0])
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return record{}, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
	}
	if len(env.Value) == 0 || env.ExpiresAt <= env.CreatedAt {
		return record{}, ErrCacheCorrupted
	}

	return record{
		value:     env.Value,
		createdAt: time.UnixMilli(env.CreatedAt),
		expiresAt: time.UnixMilli(env.ExpiresAt),
	}, nil
}

// Close releases the zstd encoder and decoder.
func (c *Codec) Close() {
	if c.encoder != nil {
		_ = c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
