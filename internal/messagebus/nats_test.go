package messagebus

import (
	"testing"
	"time"

	"github.com/jordanhubbard/loomlearn/pkg/models"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}
	if cfg.URL != "" {
		t.Error("URL should default to empty")
	}
	if cfg.StreamName != "" {
		t.Error("StreamName should default to empty")
	}
}

func TestSubjects(t *testing.T) {
	if got := eventSubject("insight.generated"); got != "loomlearn.events.insight.generated" {
		t.Errorf("eventSubject = %q", got)
	}
	if got := ActionSubject(models.ActionResourceReallocation); got != "loomlearn.actions.resource_reallocation" {
		t.Errorf("ActionSubject = %q", got)
	}
}

func TestSanitizeConsumer(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"insight.generated", "insight-generated"},
		{"adaptation.*", "adaptation--"},
		{"plain", "plain"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := sanitizeConsumer(tc.in); got != tc.want {
			t.Errorf("sanitizeConsumer(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPrefixConsumer(t *testing.T) {
	mb := &NatsMessageBus{consumerPrefix: "test"}
	if got := mb.prefixConsumer("events-all"); got != "test-events-all" {
		t.Errorf("got %q", got)
	}
	mb.consumerPrefix = ""
	if got := mb.prefixConsumer("events-all"); got != "events-all" {
		t.Errorf("got %q", got)
	}
}

func TestNewNatsMessageBus_BadURL(t *testing.T) {
	_, err := NewNatsMessageBus(Config{
		URL:     "nats://nonexistent-host:99999",
		Timeout: 500 * time.Millisecond,
	})
	if err == nil {
		t.Error("expected error connecting to nonexistent NATS")
	}
}
