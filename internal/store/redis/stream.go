package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Stream wraps a Redis client used for change event streams.
type Stream struct {
	client *redis.Client
}

func NewStream(ctx context.Context, url string) (*Stream, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Stream{client: client}, nil
}

func (s *Stream) Close() error {
	return s.client.Close()
}

func (s *Stream) Client() *redis.Client {
	return s.client
}

// Ping checks connectivity to the Redis server.
func (s *Stream) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Entry is one decoded stream entry.
type Entry struct {
	ID     string
	Fields map[string]string
}

// Range returns entries of stream with ids strictly after afterID, oldest first.
// An empty afterID starts at the beginning of the stream.
func (s *Stream) Range(ctx context.Context, stream, afterID string, count int64) ([]Entry, error) {
	if err := validateStreamOffset(afterID); err != nil {
		return nil, err
	}
	start := "-"
	if afterID != "" && afterID != "0" {
		start = "(" + afterID
	}

	msgs, err := s.client.XRangeN(ctx, stream, start, "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", stream, err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		fields := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			b, err := streamPayload(v)
			if err != nil {
				return nil, fmt.Errorf("entry %s field %s: %w", m.ID, k, err)
			}
			fields[k] = string(b)
		}
		entries = append(entries, Entry{ID: m.ID, Fields: fields})
	}
	return entries, nil
}

// DecodePayload unmarshals the JSON "payload" field of an entry.
func (e Entry) DecodePayload(dst any) error {
	raw, ok := e.Fields[payloadField]
	if !ok {
		return fmt.Errorf("entry %s has no %s field", e.ID, payloadField)
	}
	return json.Unmarshal([]byte(raw), dst)
}

func streamPayload(v any) ([]byte, error) {
	switch val := v.(type) {
	case string:
		return []byte(val), nil
	case []byte:
		return val, nil
	case fmt.Stringer:
		return []byte(val.String()), nil
	default:
		return nil, fmt.Errorf("stream value type %T not supported", v)
	}
}

func validateStreamOffset(offset string) error {
	if offset == "" {
		return nil
	}
	ms, seq, compound := strings.Cut(offset, "-")
	if _, err := strconv.ParseUint(ms, 10, 64); err != nil {
		return fmt.Errorf("invalid stream offset %q", offset)
	}
	if compound {
		if _, err := strconv.ParseUint(seq, 10, 64); err != nil {
			return fmt.Errorf("invalid stream offset %q", offset)
		}
	}
	return nil
}
