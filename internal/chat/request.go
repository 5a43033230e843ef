package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedRequest = errors.New("malformed chat request")

// Request is the inbound chat payload.
type Request struct {
	SessionID string  `json:"session_id,omitempty"`
	Message   string  `json:"message"`
	GroupIDs  []int64 `json:"group_ids,omitempty"`
}

// ParseRequest decodes a JSON payload. Invalid JSON or a blank message is
// ErrMalformedRequest.
func ParseRequest(raw []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	req.SessionID = strings.TrimSpace(req.SessionID)
	if strings.TrimSpace(req.Message) == "" {
		return Request{}, fmt.Errorf("%w: message is empty", ErrMalformedRequest)
	}

	return req, nil
}
