// Package ingest wraps the batch submission protocol: it uploads the source
// documents, consumes the backend's event channel and translates wire messages
// into typed upsert events for the reconciliation store. Retry policy is the
// caller's concern; a transport failure terminates the stream with a
// ChannelError and nothing more.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"

	"github.com/gfranca/notastream/internal/receipt"
)

// File is one source document to submit: its name and raw byte content.
type File struct {
	Name string
	Data []byte
}

// ChannelError reports a transport-level failure (connection drop, broken
// frame). It terminates the event stream; existing store state is unaffected.
type ChannelError struct {
	Cause error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("event channel failed: %v", e.Cause)
}

func (e *ChannelError) Unwrap() error { return e.Cause }

// Client submits batches to the processing backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the backend at baseURL. A nil httpClient
// falls back to http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Stream is the lazy sequence of events for one submitted batch. Events are
// delivered in backend arrival order on a single channel, so two events for
// the same record identity are never reordered. After the channel closes,
// Err reports whether the stream ended normally or with a ChannelError.
type Stream struct {
	events chan receipt.Event
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// Events returns the event channel. It is closed when the backend closes the
// batch channel, when the stream fails, or when the stream is closed locally.
func (s *Stream) Events() <-chan receipt.Event { return s.events }

// Err returns the terminal stream error, if any. Valid after Events is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops consuming the channel. Safe to call at any time; navigating
// away from the view calls this so no further events are delivered.
func (s *Stream) Close() { s.cancel() }

func (s *Stream) fail(err error) {
	s.mu.Lock()
	s.err = &ChannelError{Cause: err}
	s.mu.Unlock()
}

// SubmitBatch uploads the files and opens the batch's event channel. The
// returned stream yields one batch-submitted event followed by one
// record-processed event per file, and terminates when the backend closes the
// channel. The call itself returns as soon as the submission is accepted; the
// stream never blocks other operations.
func (c *Client) SubmitBatch(ctx context.Context, files []File) (*Stream, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("submit batch: no files")
	}

	batchID, err := c.upload(ctx, files)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream := &Stream{
		events: make(chan receipt.Event, 16),
		cancel: cancel,
	}

	go c.consume(streamCtx, batchID, stream)

	return stream, nil
}

// upload posts the batch as a multipart form and returns the assigned batch ID.
func (c *Client) upload(ctx context.Context, files []File) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := writer.CreateFormFile("files", f.Name)
		if err != nil {
			return "", fmt.Errorf("submit batch: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return "", fmt.Errorf("submit batch: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("submit batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/batches", &body)
	if err != nil {
		return "", fmt.Errorf("submit batch: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ChannelError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("submit batch: backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var accepted struct {
		BatchID string `json:"batchId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return "", &ChannelError{Cause: err}
	}
	if accepted.BatchID == "" {
		return "", &ChannelError{Cause: fmt.Errorf("response missing batchId")}
	}
	return accepted.BatchID, nil
}

// consume reads the batch's server-sent event channel and forwards decoded
// events until the backend signals the end of the batch.
func (c *Client) consume(ctx context.Context, batchID string, stream *Stream) {
	defer close(stream.events)

	url := fmt.Sprintf("%s/api/batches/%s/events", c.baseURL, batchID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		stream.fail(err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			stream.fail(err)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		stream.fail(fmt.Errorf("backend returned %d", resp.StatusCode))
		return
	}

	logger := slog.Default().With("batch_id", batchID)

	var eventName string
	var data bytes.Buffer
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if done := c.dispatch(ctx, stream, logger, eventName, data.Bytes()); done {
				return
			}
			eventName = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		// Comment and id lines are ignored.
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		// The backend dropped the connection mid-batch.
		stream.fail(err)
	}
}

// dispatch handles one complete server-sent event frame. It returns true when
// the stream is finished.
func (c *Client) dispatch(ctx context.Context, stream *Stream, logger *slog.Logger, eventName string, data []byte) bool {
	switch eventName {
	case "end":
		return true
	case "", "update":
		if len(data) == 0 {
			return false
		}
		ev, err := receipt.DecodeEvent(data)
		if err != nil {
			// Unknown kind or wrong payload shape: drop the message,
			// keep the channel alive.
			logger.Warn("dropped malformed event", "error", err)
			return false
		}
		select {
		case stream.events <- ev:
			return false
		case <-ctx.Done():
			return true
		}
	default:
		logger.Warn("ignoring unknown frame", "event", eventName)
		return false
	}
}
