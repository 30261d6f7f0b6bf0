package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/pierrec/lz4/v4"

	"github.com/paynet/nexus-pipeline/internal/domain"
)

// Compression identifies the columnar blob's compression scheme, matching
// the six values parquet_serializer.py accepts.
type Compression string

const (
	CompressionSnappy  Compression = "snappy"
	CompressionGzip    Compression = "gzip"
	CompressionBrotli  Compression = "brotli"
	CompressionZstd    Compression = "zstd"
	CompressionLZ4     Compression = "lz4"
	CompressionNone    Compression = "none"
)

// ValidCompressions lists every accepted codec name, checked by
// NewSerializer.
var ValidCompressions = map[string]bool{
	string(CompressionSnappy): true,
	string(CompressionGzip):   true,
	string(CompressionBrotli): true,
	string(CompressionZstd):   true,
	string(CompressionLZ4):    true,
	string(CompressionNone):   true,
}

// parquetCodec maps a Compression onto parquet-go's per-column codec.
// lz4 has no native parquet page codec in this library, so for that
// setting the page codec is left uncompressed and the whole serialized
// file is wrapped in an lz4 frame by Serializer (see SerializeEvents) —
// this keeps klauspost/compress (zstd/gzip) and pierrec/lz4 both
// exercised, as two distinct compression strategies the format supports.
func parquetCodec(c Compression) (parquet.Compression, error) {
	switch c {
	case CompressionSnappy:
		return &parquet.Snappy, nil
	case CompressionGzip:
		return &parquet.Gzip, nil
	case CompressionBrotli:
		return &parquet.Brotli, nil
	case CompressionZstd:
		return &parquet.Zstd, nil
	case CompressionLZ4, CompressionNone:
		return &parquet.Uncompressed, nil
	default:
		return nil, fmt.Errorf("archive: unknown compression %q", c)
	}
}

// Serializer converts between []domain.RawEvent and compressed columnar
// bytes. Grounded on parquet_serializer.py's ParquetSerializer; the
// conversion helpers (eventToRow/rowToEvent) reproduce its per-field
// mapping, including the JSON-encoded metadata column.
type Serializer struct {
	compression Compression
}

// NewSerializer constructs a Serializer for the given compression name.
func NewSerializer(compression string) (*Serializer, error) {
	c := Compression(compression)
	if !ValidCompressions[string(c)] {
		return nil, fmt.Errorf("archive: unknown compression %q", compression)
	}
	return &Serializer{compression: c}, nil
}

// SerializeEvents encodes events as a compressed columnar blob. Returns
// an error (never panics) on an empty slice, mirroring the original's
// "cannot serialize empty event list" guard.
func (s *Serializer) SerializeEvents(events []domain.RawEvent) ([]byte, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("archive: cannot serialize empty event list")
	}

	rows := make([]row, len(events))
	for i, e := range events {
		rows[i] = eventToRow(e)
	}

	codec, err := parquetCodec(s.compression)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[row](&buf, parquet.Compression(codec))
	if _, err := w.Write(rows); err != nil {
		return nil, fmt.Errorf("archive: write columnar rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("archive: close columnar writer: %w", err)
	}

	if s.compression == CompressionLZ4 {
		return lz4FrameCompress(buf.Bytes())
	}
	return buf.Bytes(), nil
}

// DeserializeEvents decodes a blob previously produced by
// SerializeEvents back into RawEvents, without field loss.
func (s *Serializer) DeserializeEvents(blob []byte) ([]domain.RawEvent, error) {
	raw := blob
	if s.compression == CompressionLZ4 {
		decompressed, err := lz4FrameDecompress(blob)
		if err != nil {
			return nil, fmt.Errorf("archive: lz4 decompress: %w", err)
		}
		raw = decompressed
	}

	r := parquet.NewGenericReader[row](bytes.NewReader(raw))
	defer r.Close()

	rows := make([]row, r.NumRows())
	n, err := r.Read(rows)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("archive: read columnar rows: %w", err)
	}
	rows = rows[:n]

	events := make([]domain.RawEvent, len(rows))
	for i, rr := range rows {
		events[i] = rowToEvent(rr)
	}
	return events, nil
}

// ValidateFile reports whether blob is a readable, schema-compatible
// columnar file, mirroring validate_parquet_file's "required core
// fields present" check.
func (s *Serializer) ValidateFile(blob []byte) bool {
	events, err := s.DeserializeEvents(blob)
	if err != nil {
		return false
	}
	for _, e := range events {
		if e.TransactionID == "" || e.CreatedAt.IsZero() {
			return false
		}
	}
	return true
}

func lz4FrameCompress(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(in); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lz4FrameDecompress(in []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(in))
	return io.ReadAll(r)
}

func encodeMetadata(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeMetadata(s string) map[string]any {
	if s == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return map[string]any{}
	}
	return m
}

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.UUID{}, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, err
	}
	return id, nil
}
