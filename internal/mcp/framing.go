// Package mcp implements a newline-delimited JSON-RPC 2.0 server that
// streams search results over TCP, one response message per result.
package mcp

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// MaxLineBytes caps a single NDJSON frame.
const MaxLineBytes = 1 << 20

var (
	ErrLineTooLong = errors.New("mcp: message exceeds line limit")
	ErrEmptyLine   = errors.New("mcp: empty message")
)

// ProtocolError marks a well-formed JSON frame that violates JSON-RPC 2.0.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "mcp: protocol violation: " + e.Reason
}

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Message is a JSON-RPC 2.0 frame. ID is kept raw so string, numeric and
// null ids round-trip unchanged.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// NewResponse builds a result frame echoing the request id.
func NewResponse(id json.RawMessage, result interface{}) Message {
	return Message{JSONRPC: "2.0", ID: id, Result: result}
}

// NewErrorResponse builds an error frame. A nil id is allowed when the
// request could not be parsed far enough to learn one.
func NewErrorResponse(id json.RawMessage, code int, message string) Message {
	return Message{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}

// Pack serializes a frame as one NDJSON line.
func Pack(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("mcp: serialize message: %w", err)
	}
	return append(data, '\n'), nil
}

// ReadMessage reads and validates a single frame. io.EOF surfaces when the
// peer closed the connection.
func ReadMessage(r *bufio.Reader) (Message, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return Message{}, err
	}
	if len(line) > MaxLineBytes {
		return Message{}, ErrLineTooLong
	}

	line = trimEOL(line)
	if len(line) == 0 {
		return Message{}, ErrEmptyLine
	}

	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return Message{}, fmt.Errorf("mcp: parse message: %w", err)
	}
	if msg.JSONRPC != "2.0" {
		return Message{}, &ProtocolError{Reason: "invalid or missing jsonrpc version"}
	}
	if msg.Method == "" && msg.Result == nil && msg.Error == nil {
		return Message{}, &ProtocolError{Reason: "message has no method, result, or error"}
	}
	return msg, nil
}

func trimEOL(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
