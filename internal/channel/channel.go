package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config — конфигурация подключения к объектному хранилищу.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool

	Logger *slog.Logger
}

// ConfigFromEnv читает конфигурацию из окружения с дефолтами
// для локальной разработки.
func ConfigFromEnv(logger *slog.Logger) Config {
	cfg := Config{
		Endpoint:  os.Getenv("MINIO_ENDPOINT"),
		AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_SECRET_KEY"),
		Bucket:    os.Getenv("MINIO_BUCKET"),
		UseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
		Logger:    logger,
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:9000"
	}
	if cfg.AccessKey == "" {
		cfg.AccessKey = "conveyor"
	}
	if cfg.SecretKey == "" {
		cfg.SecretKey = "conveyor-secret"
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "conveyor"
	}
	return cfg
}

// Channel — канал завершения run-ов.
type Channel struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// New создаёт Channel и проверяет существование бакета.
func New(ctx context.Context, cfg Config) (*Channel, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Channel{client: client, bucket: cfg.Bucket, logger: cfg.Logger}, nil
}

func exitCodeKey(runID uuid.UUID) string {
	return fmt.Sprintf("run/%s/exit_code", runID)
}

// PresignedExitCodeURL выдаёт presigned PUT URL для записи exit code.
// URL передаётся в bootstrap-скрипт при запуске инстанса; срок жизни
// должен покрывать таймаут run с запасом.
func (c *Channel) PresignedExitCodeURL(ctx context.Context, runID uuid.UUID, expiry time.Duration) (string, error) {
	u, err := c.client.PresignedPutObject(ctx, c.bucket, exitCodeKey(runID), expiry)
	if err != nil {
		return "", fmt.Errorf("presign exit code url: %w", err)
	}
	return u.String(), nil
}

// Poll проверяет, записан ли exit code для run.
// Возвращает ErrNotReady, пока объекта нет.
func (c *Channel) Poll(ctx context.Context, runID uuid.UUID) (int, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, exitCodeKey(runID), minio.GetObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("get exit code object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, 64))
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return 0, ErrNotReady
		}
		return 0, fmt.Errorf("read exit code object: %w", err)
	}

	code, err := parseExitCode(data)
	if err != nil {
		return 0, err
	}

	c.logger.Debug("completion observed", "run_id", runID, "exit_code", code)
	return code, nil
}

// parseExitCode разбирает тело объекта exit code.
// Допустимы пробелы и завершающий перевод строки вокруг числа.
func parseExitCode(data []byte) (int, error) {
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, fmt.Errorf("%w: empty body", ErrMalformed)
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	if code < 0 || code > 255 {
		return 0, fmt.Errorf("%w: exit code %d out of range", ErrMalformed, code)
	}
	return code, nil
}

// presignedGet — общий helper для read-ссылок.
func (c *Channel) presignedGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := c.client.PresignedGetObject(ctx, c.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign get %s: %w", key, err)
	}
	return u.String(), nil
}
