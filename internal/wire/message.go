package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jolby/TiREPL/internal/engine"
	"github.com/jolby/TiREPL/internal/gateway"
)

// ResponseType is the fixed type of every message reply.
const ResponseType = "eval_response"

// ErrMalformed wraps every decoding and validation failure of a /message payload.
var ErrMalformed = errors.New("malformed message")

// Request is the decoded /message payload.
type Request struct {
	SessionID string
	ID        int64
	Src       string
}

type rawRequest struct {
	SessionID *string      `json:"session-id"`
	ID        *json.Number `json:"id"`
	Src       *string      `json:"src"`
}

// DecodeRequest decodes base64, then JSON, then checks the request shape:
// session-id and src must be strings and id must be an integer.
func DecodeRequest(payload string) (Request, error) {
	data, err := decodeBase64(strings.TrimSpace(payload))
	if err != nil {
		return Request{}, fmt.Errorf("%w: base64: %v", ErrMalformed, err)
	}

	var raw rawRequest
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Request{}, fmt.Errorf("%w: json: %v", ErrMalformed, err)
	}

	if raw.SessionID == nil {
		return Request{}, fmt.Errorf("%w: missing session-id", ErrMalformed)
	}
	if raw.Src == nil {
		return Request{}, fmt.Errorf("%w: missing src", ErrMalformed)
	}
	if raw.ID == nil {
		return Request{}, fmt.Errorf("%w: missing id", ErrMalformed)
	}
	id, err := raw.ID.Int64()
	if err != nil {
		return Request{}, fmt.Errorf("%w: id %q is not an integer", ErrMalformed, raw.ID.String())
	}

	return Request{SessionID: *raw.SessionID, ID: id, Src: *raw.Src}, nil
}

// EncodeRequest is the client side of DecodeRequest.
func EncodeRequest(req Request) (string, error) {
	data, err := json.Marshal(map[string]any{
		"session-id": req.SessionID,
		"id":         req.ID,
		"src":        req.Src,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, err
}

// ErrorResult is the result of a failed evaluation.
type ErrorResult struct {
	Kind    string `json:"kind"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
}

// Response is the reply envelope. SessionID, ID and Type are fixed when the
// envelope is created; Status and Result are filled from the outcome.
type Response struct {
	SessionID string `json:"session-id"`
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Result    any    `json:"result"`
}

// NewResponse builds the envelope for req before evaluation happens.
func NewResponse(req Request) *Response {
	return &Response{
		SessionID: req.SessionID,
		ID:        req.ID,
		Type:      ResponseType,
	}
}

// SetOutcome fills Status and Result.
func (r *Response) SetOutcome(out gateway.Outcome) {
	r.Status = out.Status()
	if out.Err == nil {
		r.Result = resultValue(out.Value)
		return
	}

	var se *engine.ScriptError
	switch {
	case errors.As(out.Err, &se):
		r.Result = ErrorResult{Kind: string(se.Kind), Name: se.Name, Message: se.Error()}
	case gateway.IsMechanismError(out.Err):
		r.Result = ErrorResult{Kind: "mechanism", Message: out.Err.Error()}
	default:
		r.Result = ErrorResult{Kind: string(engine.KindInternal), Message: out.Err.Error()}
	}
}

func resultValue(v engine.Value) any {
	if v.Export == nil {
		return v.Text
	}
	if _, err := json.Marshal(v.Export); err != nil {
		return v.Text
	}
	return v.Export
}

// Encode renders the envelope as base64 of its JSON.
func (r *Response) Encode() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode response %d: %w", r.ID, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeResponse is the client side of Encode. Result is left as decoded JSON.
func DecodeResponse(payload string) (*Response, error) {
	data, err := decodeBase64(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformed, err)
	}
	var resp Response
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrMalformed, err)
	}
	return &resp, nil
}
