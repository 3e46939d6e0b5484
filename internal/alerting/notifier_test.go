package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vesrates/internal/config"
)

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/sendMessage" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{
		Kind:      KindDegraded,
		Timestamp: time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC),
		Succeeded: 2,
		Failures:  []Failure{{Exchange: "BCV", ErrorKind: "scrape_structure", Message: "div#dolar missing"}},
	}

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id mismatch: %#v", received)
	}
	if !strings.Contains(received["text"], "BCV [scrape_structure]") {
		t.Fatalf("text missing failure line: %q", received["text"])
	}
	if received["parse_mode"] != "HTML" {
		t.Fatalf("parse_mode mismatch: %#v", received)
	}
}

func TestRenderEscapesHTML(t *testing.T) {
	text := renderMessage(Notification{
		Kind:     KindDegraded,
		Failures: []Failure{{Exchange: "BCV", ErrorKind: "fetch", Message: "status 502: <html>Bad Gateway & retry</html>"}},
		Message:  "1 < 2",
	})
	if !strings.HasPrefix(text, "<b>[VES Rates] Degraded refresh</b>") {
		t.Fatalf("missing bold header: %q", text)
	}
	if strings.Contains(text, "<html>") {
		t.Fatalf("failure message not escaped: %q", text)
	}
	if !strings.Contains(text, "&lt;html&gt;Bad Gateway &amp; retry&lt;/html&gt;") || !strings.Contains(text, "1 &lt; 2") {
		t.Fatalf("unexpected escaping: %q", text)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{Kind: KindCleanup}); err == nil {
		t.Fatal("ok=false must fail")
	}
}

func TestTelegramNotifierHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "Unauthorized"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("bad", "chat", srv.URL, time.Second, testLogger())
	err := notifier.Notify(context.Background(), Notification{Kind: KindDegraded})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
}

func TestRenderCleanup(t *testing.T) {
	text := renderMessage(Notification{
		Kind:   KindCleanup,
		Purged: map[string]int64{"rate_history": 10, "api_logs": 4},
	})
	if strings.Index(text, "api_logs: 4") > strings.Index(text, "rate_history: 10") {
		t.Fatalf("tables should be sorted: %q", text)
	}
}

func TestFromConfig(t *testing.T) {
	if _, ok := FromConfig(config.AlertingConfig{}, testLogger()).(Nop); !ok {
		t.Fatal("disabled alerting should be Nop")
	}
	n := FromConfig(config.AlertingConfig{Enabled: true, Telegram: config.TelegramConfig{Enabled: true, BotToken: "t", ChatID: "c"}}, testLogger())
	if _, ok := n.(*TelegramNotifier); !ok {
		t.Fatalf("expected telegram notifier, got %T", n)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
