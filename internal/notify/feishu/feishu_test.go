package feishu_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zhoulihan/workdesk/backend/internal/config"
	"github.com/zhoulihan/workdesk/backend/internal/notify/feishu"
	"github.com/zhoulihan/workdesk/backend/internal/service/escalation"
)

func escalationNote() escalation.Notification {
	return escalation.Notification{
		OrderID:      "abc123def456",
		Category:     "app",
		Description:  "cannot log in",
		UserID:       "u1",
		Tier:         "enterprise",
		Reason:       escalation.ReasonUserRequest,
		IsEscalation: true,
	}
}

func TestNotifyPostsInteractiveCard(t *testing.T) {
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %s", ct)
		}
		captured, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := feishu.New(config.NotifyConfig{
		WebhookURL:  srv.URL,
		CallbackURL: "https://desk.example.com",
	}, config.DefaultCatalog())

	if err := n.Notify(context.Background(), escalationNote()); err != nil {
		t.Fatalf("Notify err: %v", err)
	}

	var payload struct {
		MsgType string `json:"msg_type"`
		Card    struct {
			Header struct {
				Template string `json:"template"`
				Title    struct {
					Content string `json:"content"`
				} `json:"title"`
			} `json:"header"`
			Elements []json.RawMessage `json:"elements"`
		} `json:"card"`
	}
	if err := json.Unmarshal(captured, &payload); err != nil {
		t.Fatalf("unmarshal captured body: %v", err)
	}

	if payload.MsgType != "interactive" {
		t.Fatalf("unexpected msg_type: %s", payload.MsgType)
	}
	if payload.Card.Header.Template != "red" {
		t.Fatalf("enterprise tier should color the header red, got %s", payload.Card.Header.Template)
	}
	if payload.Card.Header.Title.Content != "Manual handling requested" {
		t.Fatalf("unexpected title: %s", payload.Card.Header.Title.Content)
	}
	if len(payload.Card.Elements) != 2 {
		t.Fatalf("expected markdown plus action elements, got %d", len(payload.Card.Elements))
	}

	body := string(captured)
	for _, want := range []string{"abc123def456", "cannot log in", "View details", "orderId=abc123def456"} {
		if !strings.Contains(body, want) {
			t.Errorf("card missing %q", want)
		}
	}
}

func TestNotifyNewOrderCard(t *testing.T) {
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := feishu.New(config.NotifyConfig{WebhookURL: srv.URL}, config.DefaultCatalog())

	note := escalationNote()
	note.IsEscalation = false
	if err := n.Notify(context.Background(), note); err != nil {
		t.Fatalf("Notify err: %v", err)
	}

	body := string(captured)
	if !strings.Contains(body, "New work order") {
		t.Error("expected new-order title")
	}
	if !strings.Contains(body, `"template":"turquoise"`) {
		t.Error("new-order card should use the turquoise header")
	}
	if strings.Contains(body, "View details") {
		t.Error("no action button without a callback URL")
	}
}

func TestNotifyNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := feishu.New(config.NotifyConfig{WebhookURL: srv.URL}, config.DefaultCatalog())
	if err := n.Notify(context.Background(), escalationNote()); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}
