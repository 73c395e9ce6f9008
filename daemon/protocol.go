package daemon

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sonnes/cgshare/share"
)

// Messages are one JSON object per line:
//
//	{"method":"StartShare","params":{"session_path":"/p/s.jsonl","provider":"cloudflare"}}
//	{"status":"ShareStarted","data":{"id":"...","status":"active",...}}
//	{"status":"Error","data":{"message":"..."}}
//
// Requests without a payload omit params; responses without one omit data.

// ErrProtocol wraps every decode failure.
var ErrProtocol = errors.New("protocol error")

// Request is one of the *Request types below.
type Request interface {
	method() string
}

type PingRequest struct{}

type StartShareRequest struct {
	SessionPath string `json:"session_path"`
	// Provider may be empty to use the daemon's default provider.
	Provider string `json:"provider"`
}

type StopShareRequest struct {
	ShareID share.ID `json:"share_id"`
}

type ListSharesRequest struct{}

type ShutdownRequest struct{}

func (PingRequest) method() string       { return "Ping" }
func (StartShareRequest) method() string { return "StartShare" }
func (StopShareRequest) method() string  { return "StopShare" }
func (ListSharesRequest) method() string { return "ListShares" }
func (ShutdownRequest) method() string   { return "Shutdown" }

// Response is one of the *Response types below.
type Response interface {
	status() string
}

type PongResponse struct{}

type ShareStartedResponse struct {
	Share share.Info
}

type ShareStoppedResponse struct {
	ShareID share.ID `json:"share_id"`
}

type ShareListResponse struct {
	Shares []share.Info
}

type ShuttingDownResponse struct{}

type ErrorResponse struct {
	Message string `json:"message"`
}

func (PongResponse) status() string         { return "Pong" }
func (ShareStartedResponse) status() string { return "ShareStarted" }
func (ShareStoppedResponse) status() string { return "ShareStopped" }
func (ShareListResponse) status() string    { return "ShareList" }
func (ShuttingDownResponse) status() string { return "ShuttingDown" }
func (ErrorResponse) status() string        { return "Error" }

type requestEnvelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type responseEnvelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// EncodeRequest returns req as a single newline-terminated line.
func EncodeRequest(req Request) ([]byte, error) {
	var params any
	switch r := req.(type) {
	case StartShareRequest, StopShareRequest:
		params = r
	case PingRequest, ListSharesRequest, ShutdownRequest:
	default:
		return nil, fmt.Errorf("encode request: unsupported type %T", req)
	}
	return encodeLine(req.method(), params, func(tag string, raw json.RawMessage) any {
		return requestEnvelope{Method: tag, Params: raw}
	})
}

// EncodeResponse returns resp as a single newline-terminated line.
func EncodeResponse(resp Response) ([]byte, error) {
	var data any
	switch r := resp.(type) {
	case ShareStartedResponse:
		data = r.Share
	case ShareListResponse:
		shares := r.Shares
		if shares == nil {
			shares = []share.Info{}
		}
		data = shares
	case ShareStoppedResponse, ErrorResponse:
		data = r
	case PongResponse, ShuttingDownResponse:
	default:
		return nil, fmt.Errorf("encode response: unsupported type %T", resp)
	}
	return encodeLine(resp.status(), data, func(tag string, raw json.RawMessage) any {
		return responseEnvelope{Status: tag, Data: raw}
	})
}

func encodeLine(tag string, payload any, envelope func(string, json.RawMessage) any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", tag, err)
		}
		raw = b
	}
	line, err := json.Marshal(envelope(tag, raw))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", tag, err)
	}
	return append(line, '\n'), nil
}

// DecodeRequest parses one line produced by EncodeRequest.
func DecodeRequest(line []byte) (Request, error) {
	var env requestEnvelope
	if err := unmarshalStrict(line, &env); err != nil {
		return nil, err
	}

	switch env.Method {
	case "Ping":
		return PingRequest{}, nil
	case "ListShares":
		return ListSharesRequest{}, nil
	case "Shutdown":
		return ShutdownRequest{}, nil
	case "StartShare":
		var r StartShareRequest
		if err := decodePayload(env.Method, env.Params, &r); err != nil {
			return nil, err
		}
		if r.SessionPath == "" {
			return nil, fmt.Errorf("%w: StartShare: session_path is required", ErrProtocol)
		}
		return r, nil
	case "StopShare":
		var r StopShareRequest
		if err := decodePayload(env.Method, env.Params, &r); err != nil {
			return nil, err
		}
		return r, nil
	case "":
		return nil, fmt.Errorf("%w: missing method", ErrProtocol)
	default:
		return nil, fmt.Errorf("%w: unknown method %q", ErrProtocol, env.Method)
	}
}

// DecodeResponse parses one line produced by EncodeResponse.
func DecodeResponse(line []byte) (Response, error) {
	var env responseEnvelope
	if err := unmarshalStrict(line, &env); err != nil {
		return nil, err
	}

	switch env.Status {
	case "Pong":
		return PongResponse{}, nil
	case "ShuttingDown":
		return ShuttingDownResponse{}, nil
	case "ShareStarted":
		var r ShareStartedResponse
		err := decodePayload(env.Status, env.Data, &r.Share)
		return r, err
	case "ShareStopped":
		var r ShareStoppedResponse
		err := decodePayload(env.Status, env.Data, &r)
		return r, err
	case "ShareList":
		var r ShareListResponse
		err := decodePayload(env.Status, env.Data, &r.Shares)
		return r, err
	case "Error":
		var r ErrorResponse
		err := decodePayload(env.Status, env.Data, &r)
		return r, err
	case "":
		return nil, fmt.Errorf("%w: missing status", ErrProtocol)
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrProtocol, env.Status)
	}
}

func unmarshalStrict(line []byte, v any) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return fmt.Errorf("%w: empty message", ErrProtocol)
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return nil
}

func decodePayload(tag string, raw json.RawMessage, v any) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fmt.Errorf("%w: %s: missing payload", ErrProtocol, tag)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrProtocol, tag, err)
	}
	return nil
}
