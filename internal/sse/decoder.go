// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrStopStream, returned from a Stream callback, stops consumption
// early without surfacing an error; Stream returns nil.
var ErrStopStream = errors.New("stop stream")

// =============================================================================
// FRAMES
// =============================================================================

// FrameKind discriminates decoded frames.
type FrameKind int

const (
	// FrameData is a `data:` line carrying a valid JSON payload.
	FrameData FrameKind = iota
	// FrameHeartbeat is an `event:` line. The protocol carries the real
	// event type inside the JSON payload, so these are informational only.
	FrameHeartbeat
	// FrameParseError is a `data:` line whose payload was not valid JSON.
	FrameParseError
)

// Frame is one decoded logical line.
type Frame struct {
	Kind FrameKind

	// Data holds the JSON payload for FrameData frames.
	Data json.RawMessage

	// Event holds the event name for FrameHeartbeat frames.
	Event string

	// Raw holds the offending payload text for FrameParseError frames.
	Raw string
	// Err describes why the payload failed to parse.
	Err error
}

// =============================================================================
// DECODER
// =============================================================================

// MaxLineSize bounds a single logical line (1MB). A line that exceeds it
// is reported as a parse error and discarded rather than growing the
// buffer without limit.
const MaxLineSize = 1 * 1024 * 1024

const dataPrefix = "data:"

// Decoder reconstructs logical frames from arbitrarily chunked text.
// The zero value is ready to use. Not safe for concurrent use; one
// stream owns one decoder.
type Decoder struct {
	buf strings.Builder
}

// Feed appends one chunk and returns every frame completed by it.
// No byte is lost or double-counted across chunk boundaries: the trailing
// partial line stays buffered until a later chunk (or Flush) completes it.
func (d *Decoder) Feed(chunk string) []Frame {
	d.buf.WriteString(chunk)
	data := d.buf.String()

	idx := strings.LastIndexByte(data, '\n')
	if idx < 0 {
		if d.buf.Len() > MaxLineSize {
			d.buf.Reset()
			return []Frame{{
				Kind: FrameParseError,
				Raw:  "",
				Err:  fmt.Errorf("line exceeds %d bytes", MaxLineSize),
			}}
		}
		return nil
	}

	complete, rest := data[:idx], data[idx+1:]
	d.buf.Reset()
	d.buf.WriteString(rest)

	var frames []Frame
	for _, line := range strings.Split(complete, "\n") {
		if frame, ok := decodeLine(line); ok {
			frames = append(frames, frame)
		}
	}
	return frames
}

// Flush decodes whatever remains in the buffer as a final unterminated
// line. Call once at end of stream.
func (d *Decoder) Flush() []Frame {
	rest := d.buf.String()
	d.buf.Reset()
	if frame, ok := decodeLine(rest); ok {
		return []Frame{frame}
	}
	return nil
}

// decodeLine classifies one complete line. Blank lines and unknown SSE
// fields (id:, retry:, comments) yield nothing.
func decodeLine(line string) (Frame, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Frame{}, false
	}

	if name, ok := strings.CutPrefix(line, "event:"); ok {
		return Frame{Kind: FrameHeartbeat, Event: strings.TrimSpace(name)}, true
	}

	payload, ok := strings.CutPrefix(line, dataPrefix)
	if !ok {
		return Frame{}, false
	}
	payload = strings.TrimSpace(payload)

	// Some gateway builds emit a doubled prefix ("data: data: {...}").
	if doubled, ok := strings.CutPrefix(payload, dataPrefix); ok {
		payload = strings.TrimSpace(doubled)
	}

	if payload == "" {
		return Frame{}, false
	}

	if !json.Valid([]byte(payload)) {
		return Frame{
			Kind: FrameParseError,
			Raw:  payload,
			Err:  fmt.Errorf("invalid JSON payload"),
		}, true
	}
	return Frame{Kind: FrameData, Data: json.RawMessage(payload)}, true
}

// =============================================================================
// STREAM DRIVER
// =============================================================================

// readChunkSize matches typical proxy flush sizes; correctness does not
// depend on it.
const readChunkSize = 4096

// Stream reads r to EOF, feeding chunks through a Decoder and invoking
// fn for every frame in arrival order. A non-nil error from fn stops the
// stream and is returned, except ErrStopStream which stops it cleanly.
// Context cancellation is checked between reads.
func Stream(ctx context.Context, r io.Reader, fn func(Frame) error) error {
	var dec Decoder
	buf := make([]byte, readChunkSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			for _, frame := range dec.Feed(string(buf[:n])) {
				if err := fn(frame); err != nil {
					if errors.Is(err, ErrStopStream) {
						return nil
					}
					return err
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				for _, frame := range dec.Flush() {
					if err := fn(frame); err != nil {
						if errors.Is(err, ErrStopStream) {
							return nil
						}
						return err
					}
				}
				return nil
			}
			return fmt.Errorf("stream read: %w", readErr)
		}
	}
}
