package cassette

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"slices"
)

// FormatError reports a corrupt, truncated, or incompatible cassette
// payload. Decoding cannot partially recover because event ordering
// integrity cannot be trusted once the container is damaged.
type FormatError struct {
	Expected string // schema version this codec writes
	Actual   string // version found in the payload, if any
	Err      error
}

func (e *FormatError) Error() string {
	if e.Actual != "" {
		return fmt.Sprintf("cassette schema mismatch: expected %s, got %s", e.Expected, e.Actual)
	}
	if e.Err != nil {
		return fmt.Sprintf("invalid cassette (schema %s): %v", e.Expected, e.Err)
	}
	return fmt.Sprintf("invalid cassette (schema %s)", e.Expected)
}

func (e *FormatError) Unwrap() error { return e.Err }

// gzip container magic bytes, used to auto-detect compression on decode so
// replay configuration stays independent of how a cassette was stored.
var gzipMagic = []byte{0x1f, 0x8b}

// Encode serializes a cassette to its wire form, optionally gzip-compressed.
func Encode(c *Cassette, compression Compression) ([]byte, error) {
	if c.SchemaVersion == "" {
		c.SchemaVersion = SchemaVersion
	}

	payload, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding cassette: %w", err)
	}

	if compression != CompressionGzip {
		return payload, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("compressing cassette: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing cassette: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses an encoded cassette, transparently decompressing gzip
// containers. Returns a *FormatError for corrupt payloads or unsupported
// schema versions; supported older versions are migrated forward.
func Decode(data []byte) (*Cassette, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, &FormatError{Expected: SchemaVersion, Err: err}
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, &FormatError{Expected: SchemaVersion, Err: err}
		}
	}

	var c Cassette
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &FormatError{Expected: SchemaVersion, Err: err}
	}

	if !slices.Contains(SupportedSchemaVersions, c.SchemaVersion) {
		return nil, &FormatError{Expected: SchemaVersion, Actual: c.SchemaVersion}
	}
	migrate(&c)

	return &c, nil
}

// migrate upgrades a decoded cassette from an older supported schema to the
// current one. Versions 0.1 and 1.0 share a layout, so only the tag moves.
func migrate(c *Cassette) {
	if c.SchemaVersion != SchemaVersion {
		c.SchemaVersion = SchemaVersion
	}
}
