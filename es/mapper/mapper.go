// Package mapper converts domain events to stored records and back,
// composing transcoding, optional compression, and optional encryption.
package mapper

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"

	"github.com/getpup/pupflow/es"
)

// Transcoder encodes an event's payload fields to a single byte string
// and back into a fresh event instance.
type Transcoder interface {
	Encode(event es.DomainEvent) ([]byte, error)
	Decode(state []byte, into es.DomainEvent) error
}

// JSONTranscoder is the default Transcoder.
type JSONTranscoder struct{}

// Encode implements Transcoder.
func (JSONTranscoder) Encode(event es.DomainEvent) ([]byte, error) {
	return json.Marshal(event)
}

// Decode implements Transcoder.
func (JSONTranscoder) Decode(state []byte, into es.DomainEvent) error {
	return json.Unmarshal(state, into)
}

// Compressor compresses encoded payloads before optional encryption.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// ZlibCompressor is a Compressor backed by compress/zlib.
type ZlibCompressor struct{}

// Compress implements Compressor.
func (ZlibCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress implements Compressor. Failure means the stored state is
// corrupted; it is never retried.
func (ZlibCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	return out, nil
}

// Config contains configuration for a Mapper.
// Configuration is immutable after construction.
type Config struct {
	// Transcoder encodes payloads; JSONTranscoder when nil.
	Transcoder Transcoder

	// Compressor compresses encoded payloads when non-nil.
	Compressor Compressor

	// Cipher encrypts (compressed) payloads when non-nil. Applications
	// configured with different keys must not be able to read each
	// other's state; a wrong key surfaces as ErrCrypto.
	Cipher Cipher
}

// Option is a functional option for configuring a Mapper.
type Option func(*Config)

// WithTranscoder sets a custom payload transcoder.
func WithTranscoder(t Transcoder) Option {
	return func(c *Config) {
		c.Transcoder = t
	}
}

// WithCompressor enables payload compression.
func WithCompressor(comp Compressor) Option {
	return func(c *Config) {
		c.Compressor = comp
	}
}

// WithCipher enables payload encryption.
func WithCipher(cipher Cipher) Option {
	return func(c *Config) {
		c.Cipher = cipher
	}
}

// Mapper turns domain events into stored records and back.
// Encoding order is transcode, compress, encrypt; decoding is the inverse.
type Mapper struct {
	registry *Registry
	config   Config
}

// New creates a Mapper over the given topic registry.
func New(registry *Registry, opts ...Option) *Mapper {
	config := Config{Transcoder: JSONTranscoder{}}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Transcoder == nil {
		config.Transcoder = JSONTranscoder{}
	}
	return &Mapper{registry: registry, config: config}
}

// FromDomainEvent encodes a domain event into its stored form.
func (m *Mapper) FromDomainEvent(event es.DomainEvent) (es.StoredEvent, error) {
	topic, err := m.registry.TopicOf(event)
	if err != nil {
		return es.StoredEvent{}, err
	}

	state, err := m.config.Transcoder.Encode(event)
	if err != nil {
		return es.StoredEvent{}, fmt.Errorf("failed to encode event %q: %w", topic, err)
	}

	state, err = m.EncodeState(state)
	if err != nil {
		return es.StoredEvent{}, fmt.Errorf("event %q: %w", topic, err)
	}

	meta := event.Meta()
	return es.StoredEvent{
		OriginatorID:      meta.OriginatorID,
		OriginatorVersion: meta.OriginatorVersion,
		Topic:             topic,
		State:             state,
	}, nil
}

// ToDomainEvent reconstructs the concrete domain event from its stored
// form. Decryption and decompression failures are non-retryable
// data-corruption errors.
func (m *Mapper) ToDomainEvent(stored es.StoredEvent) (es.DomainEvent, error) {
	event, err := m.registry.New(stored.Topic)
	if err != nil {
		return nil, err
	}

	state, err := m.DecodeState(stored.State)
	if err != nil {
		return nil, fmt.Errorf("event %q: %w", stored.Topic, err)
	}

	if err := m.config.Transcoder.Decode(state, event); err != nil {
		return nil, fmt.Errorf("failed to decode event %q: %w", stored.Topic, err)
	}
	return event, nil
}

// EncodeState applies the configured compression and encryption to an
// already-transcoded byte string. Snapshot state goes through this path
// so snapshots share the events' confidentiality settings.
func (m *Mapper) EncodeState(state []byte) ([]byte, error) {
	var err error
	if m.config.Compressor != nil {
		state, err = m.config.Compressor.Compress(state)
		if err != nil {
			return nil, err
		}
	}
	if m.config.Cipher != nil {
		state, err = m.config.Cipher.Encrypt(state)
		if err != nil {
			return nil, err
		}
	}
	return state, nil
}

// DecodeState is the inverse of EncodeState.
func (m *Mapper) DecodeState(state []byte) ([]byte, error) {
	var err error
	if m.config.Cipher != nil {
		state, err = m.config.Cipher.Decrypt(state)
		if err != nil {
			return nil, err
		}
	}
	if m.config.Compressor != nil {
		state, err = m.config.Compressor.Decompress(state)
		if err != nil {
			return nil, err
		}
	}
	return state, nil
}
