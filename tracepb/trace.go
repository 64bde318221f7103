// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package tracepb // import "go.opentelemetry.io/vmtrace/tracepb"

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ErrDecode is returned when input bytes are not a valid trace container.
var ErrDecode = errors.New("could not parse trace")

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Trace is a decoded trace: an ordered sequence of packets.
type Trace struct {
	root *Message
}

// NewTrace returns an empty trace for building.
func NewTrace() *Trace {
	return &Trace{root: newMessage(traceSchema)}
}

// Decode parses a whole trace. Failure is total: either every packet decodes, or an error
// wrapping ErrDecode is returned.
func Decode(data []byte) (*Trace, error) {
	root, err := unmarshal(data, traceSchema)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &Trace{root: root}, nil
}

// Encode serializes the trace. Packets that were not mutated are emitted as the exact bytes
// they were decoded from.
func (t *Trace) Encode() []byte {
	return t.root.Marshal()
}

// Packets returns the packets of the trace in order.
func (t *Trace) Packets() []*Message {
	return t.root.Messages(TracePacket)
}

// Len returns the number of packets.
func (t *Trace) Len() int {
	n := 0
	for i := range t.root.fields {
		if t.root.fields[i].num == TracePacket && t.root.fields[i].msg != nil {
			n++
		}
	}
	return n
}

// AddPacket appends an empty packet and returns it.
func (t *Trace) AddPacket() *Message {
	return t.root.AppendMessage(TracePacket)
}

// Decompress returns data unchanged unless it is a gzip or zstd stream, in which case the
// decompressed trace is returned.
func Decompress(data []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(data, gzipMagic):
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", ErrDecode, err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", ErrDecode, err)
		}
		return out, nil
	case bytes.HasPrefix(data, zstdMagic):
		d, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer d.Close()
		out, err := d.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrDecode, err)
		}
		return out, nil
	}
	return data, nil
}

// Compress gzips a serialized trace. The trace viewer opens gzipped traces directly.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
