package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aerobench/sweep-orchestrator/internal/config"
)

func TestSlackMessage_Build(t *testing.T) {
	msg := SlackMessage{
		Text: "Sweep finished",
		Attachments: []SlackAttachment{
			{
				Color: "good",
				Title: "2d_clean/NACA0012/cruise/L0/aoa_5",
				Text:  "42 succeeded, 0 failed",
			},
		},
	}

	payload, err := msg.ToJSON()
	if err != nil {
		t.Fatal(err)
	}

	if len(payload) == 0 {
		t.Error("Payload should not be empty")
	}
}

func TestSlackNotifier_Send(t *testing.T) {
	var got SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	err := notifier.Send(Notification{
		Title:   "Point failed",
		Message: "residual diverged",
		Type:    NotifyError,
		Point:   "2d_clean/NACA0012/cruise/L1/aoa_10",
	})
	if err != nil {
		t.Errorf("Send failed: %v", err)
	}

	if got.Text != "Point failed" {
		t.Errorf("Text = %q, want %q", got.Text, "Point failed")
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("Attachments = %d, want 1", len(got.Attachments))
	}
	if got.Attachments[0].Title != "2d_clean/NACA0012/cruise/L1/aoa_10" {
		t.Errorf("attachment title = %q", got.Attachments[0].Title)
	}
	if got.Attachments[0].Color != "danger" {
		t.Errorf("attachment color = %q, want danger", got.Attachments[0].Color)
	}
}

func TestSlackNotifier_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	if err := notifier.Send(Notification{Title: "x"}); err == nil {
		t.Error("Send should fail on non-200 response")
	}
}

func TestNotificationTypeColors(t *testing.T) {
	tests := []struct {
		typ  NotificationType
		want string
	}{
		{NotifySuccess, "good"},
		{NotifyWarning, "warning"},
		{NotifyError, "danger"},
		{NotifyInfo, "#439FE0"},
	}

	for _, tt := range tests {
		got := SlackColor(tt.typ)
		if got != tt.want {
			t.Errorf("SlackColor(%v) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}

func TestMultiNotifier(t *testing.T) {
	var called []string

	mock1 := &mockNotifier{name: "mock1", calls: &called}
	mock2 := &mockNotifier{name: "mock2", calls: &called}

	multi := NewMultiNotifier(mock1, mock2)
	multi.Send(Notification{Title: "Test"})

	if len(called) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(called))
	}
}

func TestFromConfig(t *testing.T) {
	n := FromConfig(config.NotificationsConfig{})
	if _, ok := n.(NoopNotifier); !ok {
		t.Errorf("nothing enabled should give NoopNotifier, got %T", n)
	}

	n = FromConfig(config.NotificationsConfig{Desktop: true, SlackWebhook: "https://hooks.example/x"})
	if _, ok := n.(*MultiNotifier); !ok {
		t.Errorf("enabled channels should give MultiNotifier, got %T", n)
	}
}

func TestSweepFinished(t *testing.T) {
	n := SweepFinished("/work/wing_sweep.yaml", 42, 0, 3, 95*time.Second)
	if n.Type != NotifySuccess {
		t.Errorf("Type = %v, want NotifySuccess", n.Type)
	}
	if n.Title != "Sweep finished" {
		t.Errorf("Title = %q", n.Title)
	}
	if !strings.Contains(n.Message, "wing_sweep.yaml") || !strings.Contains(n.Message, "42 succeeded") {
		t.Errorf("Message = %q", n.Message)
	}

	n = SweepFinished("/work/wing_sweep.yaml", 40, 2, 0, time.Minute)
	if n.Type != NotifyWarning {
		t.Errorf("Type with failures = %v, want NotifyWarning", n.Type)
	}
	if n.Title != "Sweep finished with failures" {
		t.Errorf("Title with failures = %q", n.Title)
	}
}

func TestPointFailed(t *testing.T) {
	n := PointFailed("2d_clean/NACA0012/cruise/L0/aoa_12", "/out/aoa_12/solver.log")
	if n.Type != NotifyError {
		t.Errorf("Type = %v, want NotifyError", n.Type)
	}
	if n.Point != "2d_clean/NACA0012/cruise/L0/aoa_12" {
		t.Errorf("Point = %q", n.Point)
	}
	if !strings.Contains(n.Message, "solver.log") {
		t.Errorf("Message = %q, want diagnostics path included", n.Message)
	}
}

type mockNotifier struct {
	name  string
	calls *[]string
}

func (m *mockNotifier) Send(n Notification) error {
	*m.calls = append(*m.calls, m.name)
	return nil
}
