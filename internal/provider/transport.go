package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultTimeout bounds connect, TLS handshake and response headers.
	DefaultTimeout = 30 * time.Second

	// DefaultIdleTimeout bounds the gap between two reads of a streaming
	// body. A stream that keeps producing bytes may run for any length of
	// time.
	DefaultIdleTimeout = 30 * time.Second

	// maxErrorBody caps how much of a failed response we keep.
	maxErrorBody = 1 << 20

	// maxLineSize is the largest single SSE line we accept. bufio.Scanner's
	// default of 64KB is too small for some Gemini frames.
	maxLineSize = 1 << 20
)

var tracer = otel.Tracer("github.com/howard-nolan/aihub/internal/provider")

// NewHTTPClient returns the shared client used by every adapter.
//
// There is no Client.Timeout: it would cap the total
// duration of a stream. Instead the transport bounds each setup phase and
// the adapters wrap the response body in an idle timer.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Options configures a single adapter.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string // default model; a StreamRequest may override it
	Client      *http.Client
	IdleTimeout time.Duration
}

// New builds the adapter for kind.
func New(kind Kind, opts Options) (Provider, error) {
	switch kind {
	case KindGrok:
		return NewGrokProvider(opts), nil
	case KindOpenAI:
		return NewOpenAIProvider(opts), nil
	case KindGemini:
		return NewGeminiProvider(opts), nil
	}
	return nil, fmt.Errorf("unknown provider %q", kind)
}

// ---------------------------------------------------------------------------
// streamClient: the HTTP plumbing shared by all adapters
// ---------------------------------------------------------------------------

type streamClient struct {
	kind        Kind
	client      *http.Client
	idleTimeout time.Duration
}

func newStreamClient(kind Kind, opts Options) streamClient {
	client := opts.Client
	if client == nil {
		client = NewHTTPClient(DefaultTimeout)
	}
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return streamClient{kind: kind, client: client, idleTimeout: idle}
}

// post sends payload as JSON and returns the open response body. The body
// is wrapped so that a read gap longer than the idle timeout cancels the
// request. Non-2xx responses come back as *UpstreamError.
func (c streamClient) post(ctx context.Context, url string, payload any, header http.Header) (io.ReadCloser, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithCancelCause(ctx)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		cancel(nil)
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, vs := range header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		cancel(nil)
		return nil, fmt.Errorf("sending request to %s: %w", c.kind, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer cancel(nil)
		defer httpResp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, newUpstreamError(c.kind, httpResp.StatusCode, body)
	}

	return newIdleTimeoutBody(ctx, cancel, httpResp.Body, c.idleTimeout), nil
}

// idleTimeoutBody resets a timer on every successful Read. When the timer
// fires the request context is cancelled with ErrIdleTimeout as the cause,
// which unblocks the pending Read inside the transport.
type idleTimeoutBody struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	body    io.ReadCloser
	timer   *time.Timer
	timeout time.Duration
}

func newIdleTimeoutBody(ctx context.Context, cancel context.CancelCauseFunc, body io.ReadCloser, timeout time.Duration) *idleTimeoutBody {
	b := &idleTimeoutBody{ctx: ctx, cancel: cancel, body: body, timeout: timeout}
	b.timer = time.AfterFunc(timeout, func() { cancel(ErrIdleTimeout) })
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if n > 0 {
		b.timer.Reset(b.timeout)
	}
	if err != nil && err != io.EOF && context.Cause(b.ctx) == ErrIdleTimeout {
		err = ErrIdleTimeout
	}
	return n, err
}

// pause stops the idle timer while the consumer, not the upstream, is the
// one holding the stream up.
func (b *idleTimeoutBody) pause() {
	b.timer.Stop()
}

func (b *idleTimeoutBody) resume() {
	b.timer.Reset(b.timeout)
}

func (b *idleTimeoutBody) Close() error {
	b.timer.Stop()
	err := b.body.Close()
	b.cancel(nil)
	return err
}

// ---------------------------------------------------------------------------
// SSE decoding loop
// ---------------------------------------------------------------------------

// lineDecoder turns one upstream line into zero or more text deltas. done
// reports that the upstream signalled the end of the stream.
type lineDecoder func(line string) (deltas []string, done bool)

// sseData returns the payload of an SSE "data:" line. ok is false for any
// other line (comments, event names, blank separators).
func sseData(line string) (payload string, ok bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}

// pump reads body line by line in a goroutine and sends every decoded
// delta on an unbuffered channel, so the upstream is only read as fast as
// the caller consumes. finish runs once when the goroutine exits, with the
// error that ended the stream (nil on a clean end).
func pump(ctx context.Context, body io.ReadCloser, decode lineDecoder, finish func(error)) <-chan StreamChunk {
	ch := make(chan StreamChunk)

	go func() {
		var streamErr error
		defer close(ch)
		defer func() { finish(streamErr) }()
		defer body.Close()

		// A slow consumer blocks the send below. That time must not count
		// against the upstream's idle budget.
		idle, _ := body.(interface {
			pause()
			resume()
		})

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		for scanner.Scan() {
			deltas, done := decode(scanner.Text())
			if idle != nil && len(deltas) > 0 {
				idle.pause()
			}
			for _, d := range deltas {
				select {
				case ch <- StreamChunk{Delta: d}:
				case <-ctx.Done():
					streamErr = ctx.Err()
					return
				}
			}
			if idle != nil && len(deltas) > 0 {
				idle.resume()
			}
			if done {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			streamErr = fmt.Errorf("reading upstream stream: %w", err)
			select {
			case ch <- StreamChunk{Err: streamErr}:
			case <-ctx.Done():
			}
		}
	}()

	return ch
}

// startSpan opens the tracing span that covers one upstream call, from the
// request until the stream ends.
func startSpan(ctx context.Context, kind Kind, model string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "provider.stream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", string(kind)),
			attribute.String("llm.model", model),
		),
	)
}

// endSpan records err (if any) and closes span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// openStream is the common tail of every adapter: send the request, then
// hand the body to pump with the adapter's line decoder.
func (c streamClient) openStream(ctx context.Context, model, url string, payload any, header http.Header, decode lineDecoder) (<-chan StreamChunk, error) {
	spanCtx, span := startSpan(ctx, c.kind, model)

	body, err := c.post(spanCtx, url, payload, header)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}

	return pump(ctx, body, decode, func(err error) { endSpan(span, err) }), nil
}
