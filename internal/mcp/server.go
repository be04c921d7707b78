package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"rvdb/features/search"
)

// Searcher streams ranked search results. Satisfied by search.Service.
type Searcher interface {
	Stream(ctx context.Context, q search.Query) <-chan search.Event
}

// Server accepts TCP connections, reads one search request per connection,
// and streams one JSON-RPC response per result.
type Server struct {
	addr     string
	searcher Searcher

	mu       sync.Mutex
	listener net.Listener
	closing  bool

	wg sync.WaitGroup
}

func NewServer(addr string, searcher Searcher) *Server {
	return &Server{addr: addr, searcher: searcher}
}

// ListenAndServe blocks until Shutdown closes the listener.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("mcp: listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		ln.Close()
		return errors.New("mcp: server already shut down")
	}
	s.listener = ln
	s.mu.Unlock()

	slog.Info("mcp server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("mcp: accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Shutdown stops accepting connections and waits for in-flight streams to
// drain, up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mcp: shutdown timed out: %w", ctx.Err())
	}
}

// Addr reports the bound address, useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// searchParams is the params object of the `search` method. The date range
// mirrors the HTTP filters: [start, end], inclusive.
type searchParams struct {
	Q                  string   `json:"q"`
	K                  int      `json:"k"`
	SourceType         string   `json:"source_type"`
	Author             string   `json:"author"`
	Tags               []string `json:"tags"`
	HighlightedAtRange []string `json:"highlighted_at_range"`
}

// streamedResult is the result member of each per-hit response.
type streamedResult struct {
	ID    int64   `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	client := conn.RemoteAddr().String()
	slog.Info("mcp client connected", "client", client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reader := bufio.NewReaderSize(conn, 64*1024)

	req, err := ReadMessage(reader)
	if err != nil {
		s.rejectMalformed(conn, client, err)
		return
	}

	if req.Method != "search" {
		s.writeMessage(conn, client, NewErrorResponse(req.ID, CodeMethodNotFound,
			fmt.Sprintf("method not supported: %s", req.Method)))
		return
	}

	query, err := parseSearchParams(req.Params)
	if err != nil {
		s.writeMessage(conn, client, NewErrorResponse(req.ID, CodeInvalidParams, err.Error()))
		return
	}

	// A reader goroutine watches for the peer closing its side so the
	// stream stops promptly on disconnect.
	go func() {
		if _, err := reader.ReadByte(); err != nil {
			cancel()
		}
	}()

	slog.Info("mcp search started", "client", client, "k", query.K)

	for ev := range s.searcher.Stream(ctx, query) {
		switch ev.Kind {
		case search.EventResult:
			ok := s.writeMessage(conn, client, NewResponse(req.ID, streamedResult{
				ID:    ev.Result.ID,
				Text:  ev.Result.Text,
				Score: ev.Result.Score,
			}))
			if !ok {
				cancel()
				return
			}
		case search.EventComplete:
			if ev.Total == 0 {
				s.writeMessage(conn, client, NewResponse(req.ID, []streamedResult{}))
			}
			slog.Info("mcp search completed", "client", client, "results", ev.Total)
		case search.EventError:
			code := CodeInternalError
			if strings.Contains(ev.Message, "invalid query") {
				code = CodeInvalidParams
			}
			s.writeMessage(conn, client, NewErrorResponse(req.ID, code, ev.Message))
			return
		}
	}
}

func parseSearchParams(raw json.RawMessage) (search.Query, error) {
	if len(raw) == 0 {
		return search.Query{}, errors.New("missing or invalid 'q' parameter")
	}
	var params searchParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return search.Query{}, fmt.Errorf("invalid params: %v", err)
	}
	if strings.TrimSpace(params.Q) == "" {
		return search.Query{}, errors.New("missing or invalid 'q' parameter")
	}

	q := search.Query{
		Text:       params.Q,
		K:          params.K,
		SourceType: params.SourceType,
		Author:     params.Author,
		Tags:       params.Tags,
	}
	if len(params.HighlightedAtRange) > 0 {
		if len(params.HighlightedAtRange) != 2 {
			return search.Query{}, errors.New("highlighted_at_range must be [start, end]")
		}
		from, err := parseRangeDate(params.HighlightedAtRange[0])
		if err != nil {
			return search.Query{}, fmt.Errorf("invalid highlighted_at_range start: %v", err)
		}
		to, err := parseRangeDate(params.HighlightedAtRange[1])
		if err != nil {
			return search.Query{}, fmt.Errorf("invalid highlighted_at_range end: %v", err)
		}
		q.HighlightedFrom = from
		q.HighlightedTo = to
	}
	return q, nil
}

func parseRangeDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("cannot parse %q as date", raw)
}

// rejectMalformed answers a broken first frame when possible. A bare EOF
// means the peer connected and left, which is not worth an error frame.
func (s *Server) rejectMalformed(conn net.Conn, client string, err error) {
	if errors.Is(err, io.EOF) {
		slog.Info("mcp client disconnected before request", "client", client)
		return
	}

	code := CodeParseError
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) || errors.Is(err, ErrEmptyLine) || errors.Is(err, ErrLineTooLong) {
		code = CodeInvalidRequest
	}
	slog.Warn("mcp malformed request", "client", client, "error", err)
	s.writeMessage(conn, client, NewErrorResponse(nil, code, err.Error()))
}

func (s *Server) writeMessage(conn net.Conn, client string, msg Message) bool {
	data, err := Pack(msg)
	if err != nil {
		slog.Error("mcp failed to serialize message", "client", client, "error", err)
		return false
	}
	if _, err := conn.Write(data); err != nil {
		slog.Info("mcp write failed, client gone", "client", client, "error", err)
		return false
	}
	return true
}
