package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tenantly/internal/platform/config"
)

type delivery struct {
	body      []byte
	signature string
	event     string
	id        string
}

func TestNotifyDeliversSignedEvent(t *testing.T) {
	received := make(chan delivery, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- delivery{
			body:      body,
			signature: r.Header.Get("X-Tenantly-Signature"),
			event:     r.Header.Get("X-Tenantly-Event"),
			id:        r.Header.Get("X-Tenantly-Delivery"),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(config.NotifyConfig{
		WebhookURL: srv.URL,
		Secret:     "s3cret",
		Timeout:    5 * time.Second,
	})
	n.Notify(EventMigrated, "tnt_1", map[string]string{"schema": "tenant_abc"})

	var d delivery
	select {
	case d = <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was never called")
	}

	if d.event != EventMigrated {
		t.Errorf("event header = %q, want %q", d.event, EventMigrated)
	}
	if !strings.HasPrefix(d.id, "evt_") {
		t.Errorf("delivery id = %q, want evt_ prefix", d.id)
	}
	if want := GenerateHMAC("s3cret", d.body); d.signature != want {
		t.Errorf("signature = %q, want %q", d.signature, want)
	}

	var evt Event
	if err := json.Unmarshal(d.body, &evt); err != nil {
		t.Fatalf("invalid event body: %v", err)
	}
	if evt.TenantID != "tnt_1" {
		t.Errorf("tenant_id = %q", evt.TenantID)
	}
	if evt.Event != EventMigrated {
		t.Errorf("event = %q", evt.Event)
	}
	if evt.Timestamp == 0 {
		t.Error("timestamp missing")
	}
	if data, ok := evt.Data.(map[string]interface{}); !ok || data["schema"] != "tenant_abc" {
		t.Errorf("data = %v", evt.Data)
	}
}

func TestNotifyNoopWithoutWebhook(t *testing.T) {
	n := NewNotifier(config.NotifyConfig{})
	n.Notify(EventRolledBack, "tnt_1", nil)

	var nilNotifier *Notifier
	nilNotifier.Notify(EventRolledBack, "tnt_1", nil)
}

func TestGenerateHMAC(t *testing.T) {
	payload := []byte(`{"event":"tenant.migrated"}`)

	a := GenerateHMAC("secret", payload)
	b := GenerateHMAC("secret", payload)
	if a != b {
		t.Error("signature is not deterministic")
	}
	if len(a) != 64 {
		t.Errorf("signature length = %d, want 64 hex chars", len(a))
	}
	if GenerateHMAC("other", payload) == a {
		t.Error("different secrets must not produce the same signature")
	}
}
