package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

// EC2Config — конфигурация EC2-провайдера.
type EC2Config struct {
	// ImageID — AMI с предустановленным conveyor-runner.
	ImageID string

	// SubnetID и SecurityGroupID — сеть для инстансов (опционально).
	SubnetID        string
	SecurityGroupID string

	Logger *slog.Logger
}

// EC2ConfigFromEnv читает конфигурацию из окружения.
func EC2ConfigFromEnv(logger *slog.Logger) EC2Config {
	return EC2Config{
		ImageID:         os.Getenv("EC2_IMAGE_ID"),
		SubnetID:        os.Getenv("EC2_SUBNET_ID"),
		SecurityGroupID: os.Getenv("EC2_SECURITY_GROUP_ID"),
		Logger:          logger,
	}
}

// EC2Provider — Provider поверх AWS EC2.
type EC2Provider struct {
	client *ec2.Client
	cfg    EC2Config
	logger *slog.Logger
}

// NewEC2Provider создаёт провайдер с credentials из стандартной цепочки AWS.
func NewEC2Provider(ctx context.Context, cfg EC2Config) (*EC2Provider, error) {
	if cfg.ImageID == "" {
		return nil, fmt.Errorf("image id is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &EC2Provider{
		client: ec2.NewFromConfig(awsCfg),
		cfg:    cfg,
		logger: cfg.Logger,
	}, nil
}

// Launch запускает один инстанс под run и возвращает его id.
func (p *EC2Provider) Launch(ctx context.Context, spec LaunchSpec) (string, error) {
	instanceType := PickInstanceType(spec)

	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(p.cfg.ImageID),
		InstanceType: types.InstanceType(instanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		UserData:     aws.String(base64.StdEncoding.EncodeToString([]byte(spec.UserData))),
		// poweroff из bootstrap-скрипта должен завершать инстанс,
		// а не оставлять его остановленным и тарифицируемым за EBS.
		InstanceInitiatedShutdownBehavior: types.ShutdownBehaviorTerminate,
		TagSpecifications: []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags: []types.Tag{
					{Key: aws.String(TagManaged), Value: aws.String(TagManagedValue)},
					{Key: aws.String(TagRunID), Value: aws.String(spec.RunID.String())},
				},
			},
		},
	}
	if p.cfg.SubnetID != "" {
		input.SubnetId = aws.String(p.cfg.SubnetID)
	}
	if p.cfg.SecurityGroupID != "" {
		input.SecurityGroupIds = []string{p.cfg.SecurityGroupID}
	}

	out, err := p.client.RunInstances(ctx, input)
	if err != nil {
		return "", fmt.Errorf("%w: run instances: %w", ErrProvision, err)
	}
	if len(out.Instances) == 0 || out.Instances[0].InstanceId == nil {
		return "", fmt.Errorf("%w: run instances returned no instance", ErrProvision)
	}

	id := *out.Instances[0].InstanceId
	p.logger.Info("instance launched",
		"instance_id", id,
		"instance_type", instanceType,
		"run_id", spec.RunID,
	)
	return id, nil
}

// Terminate завершает инстанс. Уже завершённый или несуществующий
// инстанс не ошибка.
func (p *EC2Provider) Terminate(ctx context.Context, instanceID string) error {
	_, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "InvalidInstanceID.NotFound", "InvalidInstanceID.Malformed":
				p.logger.Debug("terminate: instance already gone", "instance_id", instanceID)
				return nil
			}
		}
		return fmt.Errorf("%w: terminate %s: %w", ErrProvision, instanceID, err)
	}

	p.logger.Info("instance terminated", "instance_id", instanceID)
	return nil
}

// List возвращает живые (pending/running) инстансы с указанными тегами.
func (p *EC2Provider) List(ctx context.Context, tags map[string]string) ([]Resource, error) {
	filters := []types.Filter{
		{
			Name:   aws.String("instance-state-name"),
			Values: []string{"pending", "running"},
		},
	}
	for k, v := range tags {
		filters = append(filters, types.Filter{
			Name:   aws.String("tag:" + k),
			Values: []string{v},
		})
	}

	var resources []Resource
	paginator := ec2.NewDescribeInstancesPaginator(p.client, &ec2.DescribeInstancesInput{
		Filters: filters,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: describe instances: %w", ErrProvision, err)
		}
		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				resources = append(resources, toResource(inst))
			}
		}
	}
	return resources, nil
}

func toResource(inst types.Instance) Resource {
	r := Resource{
		Tags: make(map[string]string, len(inst.Tags)),
	}
	if inst.InstanceId != nil {
		r.ID = *inst.InstanceId
	}
	if inst.State != nil {
		r.State = string(inst.State.Name)
	}
	if inst.LaunchTime != nil {
		r.LaunchedAt = *inst.LaunchTime
	}
	for _, t := range inst.Tags {
		if t.Key != nil && t.Value != nil {
			r.Tags[*t.Key] = *t.Value
		}
	}
	return r
}
