// Package push defines the outbound push-transport contract and an
// HTTP client for an Expo-compatible push service.
//
// The transport imposes a per-request message limit; callers chunk to
// ChunkLimit and treat each Send as an isolated unit. Send raises only on
// transport-level failure; per-message problems come back as tickets.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const userAgent = "taskping/0.1.0"

// DefaultChunkLimit is the per-request message cap imposed by the Expo
// push API.
const DefaultChunkLimit = 100

// Message is one outbound push.
type Message struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Badge int               `json:"badge,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

// Ticket is the transport's receipt for one accepted message. ID can be
// used for later delivery-status polling.
type Ticket struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Sender is the push transport surface the dispatcher depends on.
type Sender interface {
	// ValidateToken reports whether token has the transport's expected
	// shape. Cheap and local; no network.
	ValidateToken(token string) bool
	// ChunkLimit is the maximum messages per Send call.
	ChunkLimit() int
	// Send delivers one chunk. Transport-level failure returns an error;
	// otherwise one ticket per message, in order.
	Send(ctx context.Context, msgs []Message) ([]Ticket, error)
}

// Config configures the HTTP sender.
type Config struct {
	Endpoint    string
	AccessToken string
	ChunkSize   int
	Timeout     time.Duration
}

// NewSender builds a push sender. When no endpoint is configured a noop
// implementation is returned: tokens still validate and chunking still
// applies, but nothing leaves the process.
func NewSender(cfg Config) Sender {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return noopSender{limit: chunkLimitOrDefault(cfg.ChunkSize)}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &expoSender{
		endpoint:    endpoint,
		accessToken: strings.TrimSpace(cfg.AccessToken),
		limit:       chunkLimitOrDefault(cfg.ChunkSize),
		client:      &http.Client{Timeout: timeout},
	}
}

func chunkLimitOrDefault(n int) int {
	if n <= 0 || n > DefaultChunkLimit {
		return DefaultChunkLimit
	}
	return n
}

// ValidToken reports whether token looks like an Expo push token.
func ValidToken(token string) bool {
	token = strings.TrimSpace(token)
	for _, prefix := range []string{"ExponentPushToken[", "ExpoPushToken["} {
		if strings.HasPrefix(token, prefix) && strings.HasSuffix(token, "]") && len(token) > len(prefix)+1 {
			return true
		}
	}
	return false
}

type expoSender struct {
	endpoint    string
	accessToken string
	limit       int
	client      *http.Client
}

func (s *expoSender) ValidateToken(token string) bool { return ValidToken(token) }

func (s *expoSender) ChunkLimit() int { return s.limit }

type sendResponse struct {
	Data []struct {
		Status  string `json:"status"`
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (s *expoSender) Send(ctx context.Context, msgs []Message) ([]Ticket, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	if len(msgs) > s.limit {
		return nil, fmt.Errorf("push send: %d messages exceeds chunk limit %d", len(msgs), s.limit)
	}

	body, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("encode push request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.accessToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send push chunk: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("push service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode push response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("push service error: %s: %s", parsed.Errors[0].Code, parsed.Errors[0].Message)
	}

	tickets := make([]Ticket, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		tickets = append(tickets, Ticket{ID: d.ID, Status: d.Status, Message: d.Message})
	}
	return tickets, nil
}

type noopSender struct {
	limit int
}

func (n noopSender) ValidateToken(token string) bool { return ValidToken(token) }
func (n noopSender) ChunkLimit() int                 { return n.limit }
func (n noopSender) Send(_ context.Context, msgs []Message) ([]Ticket, error) {
	tickets := make([]Ticket, len(msgs))
	for i := range msgs {
		tickets[i] = Ticket{Status: "ok"}
	}
	return tickets, nil
}
