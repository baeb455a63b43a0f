// Package transport provides Sender implementations and decorators for the engine:
// a JSON-over-HTTP gateway, a per-destination circuit breaker and a rate limiter.
//
// The JSON gateway carries model.Message values as-is. It is a reference transport for
// peers that speak the same gateway, not a SOAP binding.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coregx/wsrm"
	"github.com/coregx/wsrm/model"
)

// ContentType is the media type of gateway requests and replies.
const ContentType = "application/json"

// maxReplySize bounds a reply body read from the peer.
const maxReplySize = 10 << 20

// HTTPSender posts messages as JSON to the destination URL. A 200 response body is the
// peer's synchronous reply; 202 and 204 mean no reply.
type HTTPSender struct {
	client  *http.Client
	headers map[string]string
}

// NewHTTPSender creates a new HTTP sender with the given request timeout.
func NewHTTPSender(timeout time.Duration, headers map[string]string) *HTTPSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSender{
		client:  &http.Client{Timeout: timeout},
		headers: headers,
	}
}

// Send implements wsrm.Sender.
func (s *HTTPSender) Send(ctx context.Context, destination string, msg *model.Message) (*model.Message, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("User-Agent", "wsrm-gateway/1.0")
	for key, value := range s.headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("peer returned non-2xx status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read reply: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var reply model.Message
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("failed to decode reply: %w", err)
	}
	return &reply, nil
}

// Receiver is the inbound side of the engine.
type Receiver interface {
	Receive(ctx context.Context, msg *model.Message) (*model.Message, error)
}

// Handler serves the gateway endpoint: it decodes a message, hands it to the receiver
// and writes the reply, or 202 Accepted when there is none.
func Handler(receiver Receiver, logger wsrm.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var msg model.Message
		if err := json.NewDecoder(io.LimitReader(r.Body, maxReplySize)).Decode(&msg); err != nil {
			http.Error(w, "invalid message: "+err.Error(), http.StatusBadRequest)
			return
		}

		reply, err := receiver.Receive(r.Context(), &msg)
		if err != nil {
			logger.Warnf("Failed to process %s for sequence %s: %v", msg.Type, msg.SequenceID, err)
			if reply == nil {
				http.Error(w, err.Error(), statusFor(err))
				return
			}
		}
		if reply == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		w.Header().Set("Content-Type", ContentType)
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(reply); err != nil {
			logger.Errorf("Failed to write reply: %v", err)
		}
	})
}

func statusFor(err error) int {
	switch {
	case wsrm.IsConfiguration(err), wsrm.IsProtocolVersion(err):
		return http.StatusBadRequest
	case wsrm.IsNoData(err):
		return http.StatusNotFound
	case wsrm.IsInvalidState(err):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
