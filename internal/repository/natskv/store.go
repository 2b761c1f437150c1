// Package natskv keeps the metadata tree in a NATS JetStream key-value
// bucket. Path segments become dot-separated key tokens; characters a KV key
// cannot carry are escaped as "=XX".
package natskv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/zzenonn/chunkplace/internal/css"
	zerrors "github.com/zzenonn/chunkplace/internal/errors"
)

// Store is a css.MetadataStore over a JetStream KV bucket.
type Store struct {
	kv jetstream.KeyValue
}

var _ css.MetadataStore = (*Store)(nil)

// New wraps an opened bucket.
func New(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// Open creates or opens bucket on nc.
func Open(ctx context.Context, nc *nats.Conn, bucket string) (*Store, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, zerrors.Unavailable("connect", bucket, err)
	}
	kv, err := ensureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "chunk placement metadata",
		History:     1,
	}, 3)
	if err != nil {
		return nil, zerrors.Unavailable("open", bucket, err)
	}
	return New(kv), nil
}

// Exists reports whether path has a key.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.Read(ctx, path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, zerrors.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Read returns the value at path.
func (s *Store) Read(ctx context.Context, path string) (string, error) {
	if err := css.Validate(path); err != nil {
		return "", err
	}
	if path == css.Root {
		return "", nil
	}

	entry, err := s.kv.Get(ctx, encodeKey(path))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return "", zerrors.NotFound(path)
		}
		return "", zerrors.Unavailable("get", path, err)
	}
	return decodeValue(entry.Value()), nil
}

// Children lists keys exactly one token below path.
func (s *Store) Children(ctx context.Context, path string) ([]string, error) {
	filter := "*"
	if path != css.Root {
		if _, err := s.Read(ctx, path); err != nil {
			return nil, err
		}
		filter = encodeKey(path) + ".*"
	}

	lister, err := s.kv.ListKeysFiltered(ctx, filter)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []string{}, nil
		}
		return nil, zerrors.Unavailable("list", path, err)
	}
	defer func() { _ = lister.Stop() }()

	names := []string{}
	for key := range lister.Keys() {
		tokens := strings.Split(key, ".")
		name, err := unescape(tokens[len(tokens)-1])
		if err != nil {
			return nil, zerrors.Malformed(path, err)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Write puts value at path after creating missing ancestors.
func (s *Store) Write(ctx context.Context, path, value string) error {
	if err := css.Validate(path); err != nil {
		return err
	}
	if path == css.Root {
		return fmt.Errorf("cannot write the root node")
	}

	for _, ancestor := range css.Ancestors(path) {
		_, err := s.kv.Create(ctx, encodeKey(ancestor), encodeValue(""))
		if err != nil && !errors.Is(err, jetstream.ErrKeyExists) {
			return zerrors.Unavailable("create", ancestor, err)
		}
	}
	if _, err := s.kv.Put(ctx, encodeKey(path), encodeValue(value)); err != nil {
		return zerrors.Unavailable("put", path, err)
	}
	return nil
}

// ensureBucket creates or opens a KV bucket, retrying with exponential
// backoff when concurrent creators race.
func ensureBucket(ctx context.Context, js jetstream.JetStream, cfg jetstream.KeyValueConfig, maxRetries int) (jetstream.KeyValue, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		kv, err := js.CreateKeyValue(ctx, cfg)
		if err == nil {
			return kv, nil
		}
		if errors.Is(err, jetstream.ErrBucketExists) {
			kv, err = js.KeyValue(ctx, cfg.Bucket)
			if err == nil {
				return kv, nil
			}
			lastErr = fmt.Errorf("bucket exists but failed to open: %w", err)
		} else {
			lastErr = err
		}

		if attempt < maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<attempt) * 10 * time.Millisecond):
			}
		}
	}
	return nil, fmt.Errorf("failed to create/open KV bucket %s after %d attempts: %w", cfg.Bucket, maxRetries, lastErr)
}

func encodeKey(path string) string {
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, seg := range segs {
		segs[i] = escape(seg)
	}
	return strings.Join(segs, ".")
}

const hexDigits = "0123456789ABCDEF"

func escape(seg string) string {
	var b strings.Builder
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteByte(c)
		default:
			b.WriteByte('=')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		}
	}
	return b.String()
}

func unescape(token string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(token); i++ {
		c := token[i]
		if c != '=' {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(token) {
			return "", fmt.Errorf("truncated escape in key token %q", token)
		}
		hi := strings.IndexByte(hexDigits, token[i+1])
		lo := strings.IndexByte(hexDigits, token[i+2])
		if hi < 0 || lo < 0 {
			return "", fmt.Errorf("bad escape in key token %q", token)
		}
		b.WriteByte(byte(hi<<4 | lo))
		i += 2
	}
	return b.String(), nil
}

func encodeValue(v string) []byte {
	if v == "" {
		return []byte(css.NullValue)
	}
	return []byte(v)
}

func decodeValue(v []byte) string {
	if string(v) == css.NullValue {
		return ""
	}
	return string(v)
}
