// Package wire encodes the messages exchanged with workers. Messages are
// JSON, the Go counterpart of structured clone; large frames on network
// transports are brotli-compressed.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/cryguy/taskworker/internal/core"
	"github.com/tidwall/gjson"
)

// Kind classifies a raw message without decoding it.
type Kind int

const (
	KindUnknown Kind = iota
	KindRequest
	KindResponse
	KindStreamRequest
	KindStatus
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindStreamRequest:
		return "stream-request"
	case KindStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Classify reports what kind of envelope msg holds.
func Classify(msg []byte) Kind {
	r := gjson.GetManyBytes(msg, "calls", "results", "status", "method")
	switch {
	case r[0].Exists():
		return KindRequest
	case r[1].Exists():
		return KindResponse
	case r[2].Exists():
		return KindStatus
	case r[3].Exists():
		return KindStreamRequest
	default:
		return KindUnknown
	}
}

// ID extracts the correlation id of an envelope. ok is false when the
// message has no numeric id.
func ID(msg []byte) (id int, ok bool) {
	r := gjson.GetBytes(msg, "id")
	if r.Type != gjson.Number {
		return 0, false
	}
	return int(r.Int()), true
}

// Marshal encodes an envelope.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	return data, nil
}

// Unmarshal decodes an envelope.
func Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	return nil
}

// EncodeArgs clones call arguments into their wire form. A value that cannot
// be encoded fails with a DataCloneError, like postMessage on an uncloneable
// value.
func EncodeArgs(args []any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(args))
	for i, arg := range args {
		if raw, ok := arg.(json.RawMessage); ok {
			out[i] = raw
			continue
		}
		data, err := json.Marshal(arg)
		if err != nil {
			return nil, core.NewRemoteError(core.KindDataClone, "argument %d could not be cloned: %v", i, err)
		}
		out[i] = data
	}
	return out, nil
}

// EncodeValue clones a single value, reporting failures as DataCloneError.
func EncodeValue(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, core.NewRemoteError(core.KindDataClone, "value could not be cloned: %v", err)
	}
	return data, nil
}

// EncodeFrame prepares msg for a network frame. Messages longer than
// threshold are brotli-compressed; threshold <= 0 disables compression.
func EncodeFrame(msg []byte, threshold int) (data []byte, compressed bool, err error) {
	if threshold <= 0 || len(msg) <= threshold {
		return msg, false, nil
	}
	out, err := Compress(msg)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// DecodeFrame reverses EncodeFrame. Decompressed output larger than limit
// fails with core.ErrMessageSize.
func DecodeFrame(data []byte, compressed bool, limit int64) ([]byte, error) {
	if !compressed {
		if limit > 0 && int64(len(data)) > limit {
			return nil, core.ErrMessageSize
		}
		return data, nil
	}
	return Decompress(data, limit)
}

// Compress brotli-compresses data.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress inflates brotli data, refusing output larger than limit
// (limit <= 0 means no limit).
func Decompress(data []byte, limit int64) ([]byte, error) {
	r := io.Reader(brotli.NewReader(bytes.NewReader(data)))
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	if limit > 0 && int64(len(out)) > limit {
		return nil, core.ErrMessageSize
	}
	return out, nil
}
