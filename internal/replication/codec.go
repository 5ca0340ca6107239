package replication

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strings"

	"github.com/pierrec/lz4/v4"

	"github.com/Houngansi/SuspenseCore-sub009/internal/security"
)

// DefaultCompressionThreshold is the serialized size above which payloads
// are compressed.
const DefaultCompressionThreshold = 128

// maxDecompressed bounds decompression output.
const maxDecompressed = 4 << 20

// Compression selects the payload compression algorithm.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZlib
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZlib:
		return "zlib"
	case CompressionLZ4:
		return "lz4"
	}
	return fmt.Sprintf("Compression(%d)", uint8(c))
}

// ParseCompression parses "none", "zlib" or "lz4".
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return CompressionNone, nil
	case "zlib":
		return CompressionZlib, nil
	case "lz4":
		return CompressionLZ4, nil
	}
	return CompressionNone, fmt.Errorf("unknown compression %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Compression) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Compression) UnmarshalText(b []byte) error {
	v, err := ParseCompression(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Payload is the wire envelope around encoded Data.
type Payload struct {
	Compression  Compression `json:"compression"`
	OriginalSize int         `json:"original_size"`
	Checksum     uint32      `json:"checksum"`
	HMAC         string      `json:"hmac,omitempty"`
	Data         []byte      `json:"data"`
}

// Size returns the number of payload bytes on the wire.
func (p Payload) Size() int {
	return len(p.Data)
}

// IsCompressed reports whether Data is compressed.
func (p Payload) IsCompressed() bool {
	return p.Compression != CompressionNone
}

// Codec encodes and decodes replication payloads.
//
// Thread-safety: a Codec is immutable after construction; KeyStorage is
// itself safe for concurrent use.
type Codec struct {
	compression Compression
	threshold   int
	keys        *security.KeyStorage
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithCompression selects the compression algorithm and threshold.
// A threshold below zero disables compression.
func WithCompression(c Compression, threshold int) CodecOption {
	return func(cd *Codec) {
		cd.compression = c
		cd.threshold = threshold
	}
}

// WithSigning signs encoded payloads and requires a valid HMAC on decode.
func WithSigning(keys *security.KeyStorage) CodecOption {
	return func(cd *Codec) {
		cd.keys = keys
	}
}

// NewCodec creates a codec. Defaults to zlib above
// DefaultCompressionThreshold without signing.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{compression: CompressionZlib, threshold: DefaultCompressionThreshold}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Signed reports whether the codec signs payloads.
func (c *Codec) Signed() bool {
	return c.keys != nil
}

// Encode serializes, optionally compresses, checksums and signs d.
func (c *Codec) Encode(d Data) (Payload, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return Payload{}, fmt.Errorf("encode replication data: %w", err)
	}

	p := Payload{Compression: CompressionNone, OriginalSize: len(raw), Data: raw}
	if c.compression != CompressionNone && c.threshold >= 0 && len(raw) > c.threshold {
		packed, err := compress(c.compression, raw)
		if err != nil {
			return Payload{}, err
		}
		if len(packed) < len(raw) {
			p.Compression = c.compression
			p.Data = packed
		}
	}

	p.Checksum = crc32.ChecksumIEEE(p.Data)
	if c.keys != nil {
		sig, err := c.keys.GenerateHMAC(p.Data)
		if err != nil {
			return Payload{}, fmt.Errorf("sign replication payload: %w", err)
		}
		p.HMAC = sig
	}
	return p, nil
}

// Decode verifies and decodes p. The HMAC is checked before the checksum,
// and both before decompression.
func (c *Codec) Decode(p Payload) (Data, error) {
	if c.keys != nil {
		if p.HMAC == "" {
			return Data{}, &IntegrityError{Stage: StageHMAC, Err: errors.New("missing signature")}
		}
		if !c.keys.VerifyHMAC(p.Data, p.HMAC) {
			return Data{}, &IntegrityError{Stage: StageHMAC, Err: errors.New("signature mismatch")}
		}
	}
	if got := crc32.ChecksumIEEE(p.Data); got != p.Checksum {
		return Data{}, &IntegrityError{Stage: StageChecksum, Err: fmt.Errorf("crc32 %08x, want %08x", got, p.Checksum)}
	}

	raw := p.Data
	if p.Compression != CompressionNone {
		if p.OriginalSize <= 0 || p.OriginalSize > maxDecompressed {
			return Data{}, &IntegrityError{Stage: StageDecompress, Err: fmt.Errorf("invalid original size %d", p.OriginalSize)}
		}
		out, err := decompress(p.Compression, p.Data, p.OriginalSize)
		if err != nil {
			return Data{}, &IntegrityError{Stage: StageDecompress, Err: err}
		}
		raw = out
	}
	if len(raw) != p.OriginalSize {
		return Data{}, &IntegrityError{Stage: StageDecompress, Err: fmt.Errorf("size %d, want %d", len(raw), p.OriginalSize)}
	}

	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return Data{}, &IntegrityError{Stage: StageDecode, Err: err}
	}
	return d, nil
}

func compress(c Compression, raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	switch c {
	case CompressionZlib:
		w = zlib.NewWriter(&buf)
	case CompressionLZ4:
		w = lz4.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("unsupported compression %s", c)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("%s compress: %w", c, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s compress: %w", c, err)
	}
	return buf.Bytes(), nil
}

func decompress(c Compression, src []byte, size int) ([]byte, error) {
	var r io.Reader
	switch c {
	case CompressionZlib:
		zr, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case CompressionLZ4:
		r = lz4.NewReader(bytes.NewReader(src))
	default:
		return nil, fmt.Errorf("unsupported compression %s", c)
	}
	out, err := io.ReadAll(io.LimitReader(r, int64(size)+1))
	if err != nil {
		return nil, err
	}
	return out, nil
}
