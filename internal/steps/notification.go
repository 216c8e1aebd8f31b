package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// WebhookSource tags every webhook envelope.
const WebhookSource = "autoflow"

const notificationSchema = `{
  "type": "object",
  "properties": {
    "type": {"type": "string", "enum": ["system","email","webhook"]},
    "title": {"type": "string"},
    "message": {"type": "string"},
    "url": {"type": "string"},
    "priority": {"type": "string"}
  }
}`

// NotificationHandler implements NOTIFICATION.
type NotificationHandler struct {
	notes  store.NotificationStore
	client *http.Client
	now    func() time.Time
}

// NewNotificationHandler creates a NOTIFICATION handler. client may be nil.
func NewNotificationHandler(notes store.NotificationStore, client *http.Client) *NotificationHandler {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &NotificationHandler{notes: notes, client: client, now: time.Now}
}

func (h *NotificationHandler) Type() schema.StepType { return schema.StepNotification }

func (h *NotificationHandler) Schema() HandlerSchema {
	return HandlerSchema{
		Description:  "Create a system notification or POST a webhook.",
		ConfigSchema: json.RawMessage(notificationSchema),
	}
}

func (h *NotificationHandler) Execute(ctx context.Context, cfg map[string]any, data *schema.ExecutionData) schema.StepResult {
	scope := data.Scope()
	kind := stringParam(cfg, "type", "system")
	title := resolvedString(cfg, "title", scope)
	message := resolvedString(cfg, "message", scope)

	switch kind {
	case "system":
		if h.notes == nil {
			return schema.Failed("notification store is not configured")
		}
		priority := resolvedString(cfg, "priority", scope)
		if priority == "" {
			priority = "normal"
		}
		n := &store.Notification{
			ID:        uuid.NewString(),
			UserID:    data.Context.UserID,
			Title:     title,
			Message:   message,
			Priority:  priority,
			CreatedAt: h.now().UTC(),
		}
		if err := h.notes.CreateNotification(ctx, n); err != nil {
			return fail(err)
		}
		return schema.Succeeded("system notification created", map[string]any{
			"id":       n.ID,
			"title":    n.Title,
			"message":  n.Message,
			"priority": n.Priority,
		})

	case "webhook":
		target := resolvedString(cfg, "url", scope)
		if target == "" {
			return schema.Failed("webhook notification requires a url")
		}
		return h.postWebhook(ctx, target, title, message)

	case "email":
		return schema.Failed("email notifications are not implemented")

	default:
		return schema.Failed("unsupported notification type: " + kind)
	}
}

func (h *NotificationHandler) postWebhook(ctx context.Context, target, title, message string) schema.StepResult {
	payload, err := json.Marshal(map[string]any{
		"title":     title,
		"message":   message,
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"source":    WebhookSource,
	})
	if err != nil {
		return fail(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return schema.Failed("failed to create webhook request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return schema.Failed(fmt.Sprintf("webhook to %s failed: %s", target, err.Error()))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return schema.Failed(fmt.Sprintf("webhook returned status %d", resp.StatusCode))
	}
	return schema.Succeeded("webhook delivered", map[string]any{"status": resp.StatusCode, "url": target})
}
