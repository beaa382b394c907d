// Package stream re-frames provider deltas into the gateway's outward SSE
// protocol and flushes them to the caller.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/howard-nolan/aihub/internal/provider"
)

// ErrFlushUnsupported is returned before anything is written when the
// ResponseWriter cannot flush. Callers may still send a normal error
// response in that case.
var ErrFlushUnsupported = errors.New("response writer does not support flushing (http.Flusher)")

// Opener opens the upstream stream. Write calls it only after the handshake
// has reached the caller, so a slow upstream never delays the handshake.
type Opener func() (<-chan provider.StreamChunk, error)

// ---------------------------------------------------------------------------
// Outward event types
// ---------------------------------------------------------------------------

// The outward protocol is two event shapes, each sent as one
// "data: {json}\n\n" SSE event:
//
//	data: {"req_id":"abc","result_code":0,"result_msg":"ok"}   (once, first)
//	data: {"ai_output":"He"}                                   (per delta)
//
// There is no terminal event. A clean end is the response simply ending;
// a failure is the connection being dropped by the caller of Write.

// Handshake is the first event of every stream.
type Handshake struct {
	ReqID      string `json:"req_id"`
	ResultCode int    `json:"result_code"`
	ResultMsg  string `json:"result_msg"`
}

// TextDelta carries one fragment of generated text.
type TextDelta struct {
	AIOutput string `json:"ai_output"`
}

// ---------------------------------------------------------------------------
// SSE writers
// ---------------------------------------------------------------------------

// Write runs one outward stream:
//
//  1. set the SSE headers and flush the handshake for reqID;
//  2. call open to start the upstream;
//  3. write and flush one TextDelta per chunk, in arrival order.
//
// It returns the number of deltas written. If open fails, or a chunk carries
// an error, Write stops and returns the error without writing an in-band
// error event; the headers are already on the wire at that point, so the
// caller's only option is to abort the connection.
func Write(w http.ResponseWriter, reqID string, open Opener) (int, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return 0, ErrFlushUnsupported
	}

	setHeaders(w)
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, flusher, Handshake{ReqID: reqID, ResultCode: 0, ResultMsg: "ok"}); err != nil {
		return 0, err
	}

	chunks, err := open()
	if err != nil {
		return 0, err
	}

	n := 0
	for chunk := range chunks {
		if chunk.Err != nil {
			return n, chunk.Err
		}
		if err := writeEvent(w, flusher, TextDelta{AIOutput: chunk.Delta}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// WriteRaw relays each delta verbatim, with no SSE framing, flushing after
// every write. This is the older prompt-chat protocol where the caller
// simply concatenates whatever bytes arrive.
func WriteRaw(w http.ResponseWriter, chunks <-chan provider.StreamChunk) (int, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return 0, ErrFlushUnsupported
	}

	setHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	n := 0
	for chunk := range chunks {
		if chunk.Err != nil {
			return n, chunk.Err
		}
		if _, err := fmt.Fprint(w, chunk.Delta); err != nil {
			return n, fmt.Errorf("writing raw delta: %w", err)
		}
		flusher.Flush()
		n++
	}
	return n, nil
}

// setHeaders must run before the first body write; after that the headers
// are already on the wire.
func setHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // stop nginx from buffering
}

// writeEvent writes v as one SSE event and flushes it immediately. Without
// the flush Go's server buffers output until ~4KB accumulate, which would
// defeat token-by-token delivery.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("marshaling SSE event: %w", err)
	}

	// Encode appends a newline; trim it so the event is exactly
	// "data: {json}\n\n".
	payload := bytes.TrimRight(buf.Bytes(), "\n")
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("writing SSE event: %w", err)
	}
	flusher.Flush()
	return nil
}
