package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LogStore — хранилище консольных логов run-ов.
// Работает поверх того же бакета, что и канал завершения.
// Логи вне критического пути state machine: инстанс грузит их
// напрямую по presigned URL, engine их не читает.
type LogStore struct {
	ch *Channel
}

// NewLogStore создаёт LogStore поверх существующего Channel.
func NewLogStore(ch *Channel) *LogStore {
	return &LogStore{ch: ch}
}

func logKey(runID uuid.UUID) string {
	return fmt.Sprintf("run/%s/console.log", runID)
}

// PresignedUploadURL выдаёт presigned PUT URL для загрузки лога
// с инстанса (используется bootstrap-скриптом).
func (s *LogStore) PresignedUploadURL(ctx context.Context, runID uuid.UUID, expiry time.Duration) (string, error) {
	u, err := s.ch.client.PresignedPutObject(ctx, s.ch.bucket, logKey(runID), expiry)
	if err != nil {
		return "", fmt.Errorf("presign log upload url: %w", err)
	}
	return u.String(), nil
}

// Handle возвращает временную ссылку на чтение лога run.
func (s *LogStore) Handle(ctx context.Context, runID uuid.UUID, expiry time.Duration) (string, error) {
	return s.ch.presignedGet(ctx, logKey(runID), expiry)
}
