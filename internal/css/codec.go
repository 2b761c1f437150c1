package css

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	zerrors "github.com/zzenonn/chunkplace/internal/errors"
)

// NullValue marks a node without a value in the dump format.
const NullValue = `\N`

// Dump writes every node of store below Root as "path<TAB>value" lines,
// depth first with children in sorted order, so parents always precede
// their children.
func Dump(ctx context.Context, store MetadataStore, w io.Writer) error {
	bw := bufio.NewWriter(w)
	if err := dumpNode(ctx, store, Root, bw); err != nil {
		return err
	}
	return bw.Flush()
}

func dumpNode(ctx context.Context, store MetadataStore, path string, w *bufio.Writer) error {
	value, err := store.Read(ctx, path)
	if err != nil {
		// Some backends have no materialized root.
		if path != Root || !errors.Is(err, zerrors.ErrNotFound) {
			return fmt.Errorf("dump %s: %w", path, err)
		}
	}
	field, err := encodeValue(path, value)
	if err != nil {
		return fmt.Errorf("dump %s: %w", path, err)
	}
	if _, err := fmt.Fprintf(w, "%s\t%s\n", path, field); err != nil {
		return err
	}

	children, err := store.Children(ctx, path)
	if err != nil {
		if errors.Is(err, zerrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("dump %s: %w", path, err)
	}
	for _, name := range children {
		if err := dumpNode(ctx, store, Join(path, name), w); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the Dump format and writes every node into store. Blank lines
// are ignored; the root line is accepted and skipped.
func Load(ctx context.Context, store MetadataStore, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	loaded := 0
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		path, raw, ok := strings.Cut(text, "\t")
		if !ok {
			return loaded, fmt.Errorf("line %d: %w: missing tab separator", line, zerrors.ErrMalformedEntry)
		}
		if err := Validate(path); err != nil {
			return loaded, fmt.Errorf("line %d: %w: %v", line, zerrors.ErrMalformedEntry, err)
		}
		if path == Root {
			continue
		}
		if err := store.Write(ctx, path, decodeValue(raw)); err != nil {
			return loaded, fmt.Errorf("line %d: %w", line, err)
		}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return loaded, fmt.Errorf("read dump: %w", err)
	}
	return loaded, nil
}

// encodeValue renders a value as its raw dump field. Fields are not escaped,
// so values holding line breaks or tabs, or a literal \N, are rejected.
func encodeValue(path, v string) (string, error) {
	if v == "" {
		return NullValue, nil
	}
	if v == NullValue || strings.ContainsAny(v, "\t\r\n") {
		return "", zerrors.Malformed(path, fmt.Errorf("value %q cannot be represented in a dump", v))
	}
	return v, nil
}

// decodeValue returns the raw field unchanged, except for the null marker.
func decodeValue(raw string) string {
	if raw == NullValue {
		return ""
	}
	return raw
}
