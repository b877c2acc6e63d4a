package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tenantly/internal/platform/config"
)

// Lifecycle events.
const (
	EventMigrated         = "tenant.migrated"
	EventRolledBack       = "tenant.rolled_back"
	EventValidationFailed = "tenant.validation_failed"
)

type Event struct {
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	TenantID  string      `json:"tenant_id"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Notifier posts signed lifecycle events to a configured webhook. Delivery is
// fire and forget: a failed post is logged, never surfaced to the operation
// that triggered it.
type Notifier struct {
	client *resty.Client
	url    string
	secret string
}

func NewNotifier(cfg config.NotifyConfig) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		client: resty.New().SetTimeout(timeout),
		url:    cfg.WebhookURL,
		secret: cfg.Secret,
	}
}

func (n *Notifier) Notify(event, tenantID string, data interface{}) {
	if n == nil || n.url == "" {
		return
	}

	evt := &Event{
		ID:        "evt_" + uuid.New().String(),
		Event:     event,
		TenantID:  tenantID,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}

	go n.deliver(evt)
}

func (n *Notifier) deliver(evt *Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}

	resp, err := n.client.R().
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Tenantly-Signature", GenerateHMAC(n.secret, payload)).
		SetHeader("X-Tenantly-Event", evt.Event).
		SetHeader("X-Tenantly-Delivery", evt.ID).
		SetBody(payload).
		Post(n.url)

	if err != nil {
		log.Error().Err(err).Str("event", evt.Event).Msg("webhook delivery failed")
		return
	}
	if resp.StatusCode() >= 400 {
		log.Error().Int("status", resp.StatusCode()).Str("event", evt.Event).Msg("webhook delivery rejected")
	}
}

func GenerateHMAC(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
