package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestValidToken(t *testing.T) {
	t.Parallel()
	tests := []struct {
		token string
		want  bool
	}{
		{"ExponentPushToken[abc123]", true},
		{"ExpoPushToken[abc123]", true},
		{"  ExponentPushToken[abc123]  ", true},
		{"ExponentPushToken[]", false},
		{"ExponentPushToken[abc", false},
		{"PushToken[abc123]", false},
		{"", false},
		{"abc123", false},
	}
	for _, tt := range tests {
		if got := ValidToken(tt.token); got != tt.want {
			t.Fatalf("ValidToken(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestChunkLimitOrDefault(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   int
		want int
	}{
		{0, DefaultChunkLimit},
		{-1, DefaultChunkLimit},
		{50, 50},
		{100, 100},
		{250, DefaultChunkLimit}, // never above the transport cap
	}
	for _, tt := range tests {
		if got := chunkLimitOrDefault(tt.in); got != tt.want {
			t.Fatalf("chunkLimitOrDefault(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestExpoSenderSend(t *testing.T) {
	t.Parallel()

	var gotAuth, gotContentType string
	var gotMsgs []Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotMsgs); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{
				{"status": "ok", "id": "ticket-1"},
				{"status": "error", "message": "DeviceNotRegistered"},
			},
		})
	}))
	defer srv.Close()

	s := NewSender(Config{Endpoint: srv.URL, AccessToken: "secret", Timeout: time.Second})
	tickets, err := s.Send(context.Background(), []Message{
		{To: "ExponentPushToken[a]", Title: "t1", Body: "b1"},
		{To: "ExponentPushToken[b]", Title: "t2", Body: "b2"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Fatalf("Content-Type = %q", gotContentType)
	}
	if len(gotMsgs) != 2 || gotMsgs[0].To != "ExponentPushToken[a]" {
		t.Fatalf("server saw %+v", gotMsgs)
	}
	if len(tickets) != 2 {
		t.Fatalf("tickets = %d, want 2", len(tickets))
	}
	if tickets[0].ID != "ticket-1" || tickets[0].Status != "ok" {
		t.Fatalf("ticket[0] = %+v", tickets[0])
	}
	if tickets[1].Status != "error" || tickets[1].Message != "DeviceNotRegistered" {
		t.Fatalf("ticket[1] = %+v", tickets[1])
	}
}

func TestExpoSenderHTTPError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewSender(Config{Endpoint: srv.URL})
	if _, err := s.Send(context.Background(), []Message{{To: "ExponentPushToken[a]"}}); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestExpoSenderServiceError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]string{{"code": "PUSH_TOO_MANY_EXPERIENCE_IDS", "message": "mixed projects"}},
		})
	}))
	defer srv.Close()

	s := NewSender(Config{Endpoint: srv.URL})
	if _, err := s.Send(context.Background(), []Message{{To: "ExponentPushToken[a]"}}); err == nil {
		t.Fatal("expected error for service-level errors array")
	}
}

func TestExpoSenderRejectsOversizedChunk(t *testing.T) {
	t.Parallel()
	s := NewSender(Config{Endpoint: "http://localhost:1", ChunkSize: 2})
	msgs := make([]Message, 3)
	if _, err := s.Send(context.Background(), msgs); err == nil {
		t.Fatal("expected error when chunk exceeds limit")
	}
}

func TestNoopSender(t *testing.T) {
	t.Parallel()
	s := NewSender(Config{})
	if s.ChunkLimit() != DefaultChunkLimit {
		t.Fatalf("ChunkLimit = %d", s.ChunkLimit())
	}
	if !s.ValidateToken("ExponentPushToken[a]") {
		t.Fatal("noop sender should still validate token shape")
	}
	tickets, err := s.Send(context.Background(), []Message{{To: "ExponentPushToken[a]"}, {To: "ExponentPushToken[b]"}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(tickets) != 2 || tickets[0].Status != "ok" {
		t.Fatalf("tickets = %+v", tickets)
	}
}
