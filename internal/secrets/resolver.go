package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/shaiso/Conveyor/internal/domain"
)

// ErrSecretNotFound — секрет с указанным ref не существует.
var ErrSecretNotFound = errors.New("secret not found")

// Resolver разрешает секретные ссылки в значения.
type Resolver struct {
	client *secretsmanager.Client
	logger *slog.Logger
}

// NewResolver создаёт Resolver с credentials из стандартной цепочки AWS.
func NewResolver(ctx context.Context, logger *slog.Logger) (*Resolver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Resolver{
		client: secretsmanager.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Resolve возвращает значение секрета по ссылке.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	out, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref),
	})
	if err != nil {
		var notFound *smtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, ref)
		}
		return "", fmt.Errorf("get secret %s: %w", ref, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", ref)
	}
	return *out.SecretString, nil
}

// ResolveAll разрешает все ссылки снапшота в map env-имя -> значение.
// Либо разрешаются все, либо ни один не используется.
func (r *Resolver) ResolveAll(ctx context.Context, refs []domain.SecretRef) (map[string]string, error) {
	resolved := make(map[string]string, len(refs))
	for _, ref := range refs {
		value, err := r.Resolve(ctx, ref.Ref)
		if err != nil {
			return nil, err
		}
		resolved[ref.Env] = value
	}
	r.logger.Debug("secrets resolved", "count", len(resolved))
	return resolved, nil
}
