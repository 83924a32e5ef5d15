package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"schwab-discord-notifier/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DiscordNotifier posts trade embeds to one or two Discord webhooks.
type DiscordNotifier struct {
	client    *resty.Client
	primary   string
	secondary string
	roleID    string
	username  string
	limiter   *rate.Limiter
	logger    *zap.Logger
}

var _ Notifier = (*DiscordNotifier)(nil)

// NewDiscordNotifier creates a notifier for the configured webhooks.
func NewDiscordNotifier(cfg *config.Discord, logger *zap.Logger) (*DiscordNotifier, error) {
	if cfg.WebhookURL == "" {
		return nil, errors.New("discord webhook url is not configured")
	}

	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}

	client := resty.New().
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(3).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(30 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		SetRetryAfter(discordRetryAfter)

	return &DiscordNotifier{
		client:    client,
		primary:   cfg.WebhookURL,
		secondary: cfg.SecondaryWebhookURL,
		roleID:    cfg.RoleID,
		username:  cfg.Username,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger.Named("discord"),
	}, nil
}

// Send posts the notification to the primary webhook and, when configured,
// the secondary one. Only a primary failure is returned.
func (d *DiscordNotifier) Send(ctx context.Context, n Notification) error {
	payload := d.Payload(n)

	if err := d.post(ctx, d.primary, payload); err != nil {
		return err
	}
	if d.secondary != "" {
		if err := d.post(ctx, d.secondary, payload); err != nil {
			d.logger.Warn("Secondary webhook failed", zap.String("order_id", n.Record.OrderID), zap.Error(err))
		}
	}

	d.logger.Info("Posted trade", zap.String("order_id", n.Record.OrderID), zap.String("title", payload.Embeds[0].Title))
	return nil
}

// Payload builds the webhook body for a notification.
func (d *DiscordNotifier) Payload(n Notification) WebhookPayload {
	payload := WebhookPayload{
		Username: d.username,
		Embeds:   []Embed{BuildEmbed(n, d.username)},
	}
	if d.roleID != "" {
		payload.Content = fmt.Sprintf("<@&%s>", d.roleID)
		payload.AllowedMentions = &AllowedMentions{Roles: []string{d.roleID}}
	}
	return payload
}

func (d *DiscordNotifier) post(ctx context.Context, url string, payload WebhookPayload) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(url)
	if err != nil {
		return fmt.Errorf("discord webhook request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("discord webhook failed with status %s: %s", resp.Status(), resp.String())
	}
	return nil
}

// discordRetryAfter honours the Retry-After header or the retry_after field
// of a 429 body. A zero duration lets resty fall back to its backoff.
func discordRetryAfter(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
	if resp == nil || resp.StatusCode() != http.StatusTooManyRequests {
		return 0, nil
	}
	if seconds, err := strconv.ParseFloat(resp.Header().Get("Retry-After"), 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), nil
	}
	var body struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.RetryAfter > 0 {
		return time.Duration(body.RetryAfter * float64(time.Second)), nil
	}
	return 0, nil
}
