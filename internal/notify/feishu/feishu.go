package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/zhoulihan/workdesk/backend/internal/config"
	"github.com/zhoulihan/workdesk/backend/internal/service/escalation"
)

// Notifier posts interactive card messages to a Feishu incoming webhook. It
// implements escalation.Notifier; delivery is one-shot with no retries.
type Notifier struct {
	webhookURL  string
	callbackURL string
	catalog     config.Catalog
	client      *http.Client
}

// New builds a notifier for the configured webhook.
func New(cfg config.NotifyConfig, catalog config.Catalog) *Notifier {
	return &Notifier{
		webhookURL:  cfg.WebhookURL,
		callbackURL: cfg.CallbackURL,
		catalog:     catalog,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify posts one card describing the work order event.
func (n *Notifier) Notify(ctx context.Context, note escalation.Notification) error {
	body, err := json.Marshal(map[string]any{
		"msg_type": "interactive",
		"card":     n.buildCard(note),
	})
	if err != nil {
		return fmt.Errorf("feishu: marshal card: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("feishu: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("feishu: post card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feishu: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) buildCard(note escalation.Notification) map[string]any {
	var header map[string]any
	if note.IsEscalation {
		header = map[string]any{
			"template": tierTemplate(note.Tier),
			"title":    plainText("Manual handling requested"),
			"subtitle": plainText("Order ID: " + note.OrderID),
			"text_tag_list": []map[string]any{
				{
					"tag":   "text_tag",
					"text":  plainText(n.catalog.TierLabel(note.Tier)),
					"color": "neutral",
				},
			},
		}
	} else {
		header = map[string]any{
			"template": "turquoise",
			"title":    plainText("New work order"),
			"subtitle": plainText("Order ID: " + note.OrderID),
		}
	}

	elements := []map[string]any{
		{
			"tag": "markdown",
			"content": fmt.Sprintf(
				"**User ID:** %s\n**Category:** %s\n**Description:** %s\n**Tier:** %s",
				note.UserID, n.catalog.CategoryLabel(note.Category),
				note.Description, n.catalog.TierLabel(note.Tier)),
		},
	}
	if n.callbackURL != "" {
		elements = append(elements, map[string]any{
			"tag": "action",
			"actions": []map[string]any{
				{
					"tag":  "button",
					"text": plainText("View details"),
					"type": "primary",
					"multi_url": map[string]any{
						"url":         n.callbackURL + "/workorder/detail?orderId=" + note.OrderID,
						"android_url": "",
						"ios_url":     "",
						"pc_url":      "",
					},
				},
			},
		})
	}

	return map[string]any{"elements": elements, "header": header}
}

// tierTemplate maps the owner tier to the card header color used by the
// operations channel to eyeball priority.
func tierTemplate(tier string) string {
	switch tier {
	case "free":
		return "blue"
	case "experience":
		return "green"
	case "team":
		return "purple"
	case "enterprise":
		return "red"
	case "custom":
		return "turquoise"
	}
	return "turquoise"
}

func plainText(content string) map[string]any {
	return map[string]any{"content": content, "tag": "plain_text"}
}
