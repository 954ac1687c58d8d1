// Package notify — уведомления о неуспешных run-ах.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

// Notifier доставляет уведомления на webhook.
// Доставка best-effort: ошибки логируются и не ретраятся здесь —
// повторная доставка приходит от at-least-once очереди.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

// New создаёт Notifier. Пустой webhookURL отключает доставку.
func New(webhookURL string, logger *slog.Logger) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// NewFromEnv читает WEBHOOK_URL из окружения.
func NewFromEnv(logger *slog.Logger) *Notifier {
	return New(os.Getenv("WEBHOOK_URL"), logger)
}

type payload struct {
	RunID     uuid.UUID `json:"run_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Deliver отправляет уведомление о завершении run.
func (n *Notifier) Deliver(ctx context.Context, runID uuid.UUID, status, message string) error {
	if n.webhookURL == "" {
		n.logger.Debug("webhook not configured, notification skipped", "run_id", runID)
		return nil
	}

	body, err := json.Marshal(payload{
		RunID:     runID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}

	n.logger.Info("notification delivered", "run_id", runID, "status", status)
	return nil
}
