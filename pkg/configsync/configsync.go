// Package configsync copies an AppConfig profile into the environment of an ECS
// service's container, registers a new task definition revision and redeploys the
// service. Every run ends with an SNS notification, success or failure.
package configsync

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/appconfigdata"
	"github.com/aws/aws-sdk-go/service/ecs"

	"github.com/UKHomeOffice/albsync/internal/config"
	"github.com/UKHomeOffice/albsync/internal/envfile"
	"github.com/UKHomeOffice/albsync/internal/fault"
	"github.com/UKHomeOffice/albsync/internal/logging"
)

// Notification subjects
const (
	SubjectSucceeded = "configuration update succeeded"
	SubjectFailed    = "configuration update failed"
)

// ConfigStore reads the latest configuration from AppConfig
type ConfigStore interface {
	StartConfigurationSessionWithContext(aws.Context, *appconfigdata.StartConfigurationSessionInput, ...request.Option) (*appconfigdata.StartConfigurationSessionOutput, error)
	GetLatestConfigurationWithContext(aws.Context, *appconfigdata.GetLatestConfigurationInput, ...request.Option) (*appconfigdata.GetLatestConfigurationOutput, error)
}

// Orchestrator is the subset of ECS the sync needs
type Orchestrator interface {
	DescribeServicesWithContext(aws.Context, *ecs.DescribeServicesInput, ...request.Option) (*ecs.DescribeServicesOutput, error)
	DescribeTaskDefinitionWithContext(aws.Context, *ecs.DescribeTaskDefinitionInput, ...request.Option) (*ecs.DescribeTaskDefinitionOutput, error)
	RegisterTaskDefinitionWithContext(aws.Context, *ecs.RegisterTaskDefinitionInput, ...request.Option) (*ecs.RegisterTaskDefinitionOutput, error)
	UpdateServiceWithContext(aws.Context, *ecs.UpdateServiceInput, ...request.Option) (*ecs.UpdateServiceOutput, error)
}

// Notifier reports the outcome of a run; it must not fail
type Notifier interface {
	Notify(ctx context.Context, subject, message string)
}

// Syncer converges a service's environment on its configuration profile
type Syncer struct {
	store  ConfigStore
	ecs    Orchestrator
	notify Notifier
	cfg    config.Sync
}

// NewSyncer returns a new syncer
func NewSyncer(cs ConfigStore, o Orchestrator, n Notifier, cfg config.Sync) *Syncer {
	return &Syncer{store: cs, ecs: o, notify: n, cfg: cfg}
}

// Handle runs one sync. Whatever the trigger payload is, it is ignored.
func (s *Syncer) Handle(ctx context.Context) (string, error) {
	return s.reported(ctx, s.Sync)
}

// reported runs fn and sends exactly one notification describing how it went
func (s *Syncer) reported(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	logger := logging.FromContext(ctx).WithFields(log.Fields{
		"cluster": s.cfg.Cluster,
		"service": s.cfg.Service,
	})

	arn, err := fn(ctx)
	if err != nil {
		logger.WithError(err).WithField("kind", fault.KindOf(err).String()).Error("configuration sync failed")
		s.notify.Notify(ctx, SubjectFailed, fmt.Sprintf(
			"Configuration sync for ECS service %q failed.\n\nError:\n%v\n\nCheck the function logs for details.",
			s.cfg.Service, err))
		return "", err
	}

	s.notify.Notify(ctx, SubjectSucceeded, fmt.Sprintf(
		"AppConfig deployment applied.\nECS service %q has new environment variables.\nNew task definition: %s",
		s.cfg.Service, arn))
	return fmt.Sprintf("updated ECS environment, new task definition: %s", arn), nil
}

// Sync performs the update and returns the new task definition ARN
func (s *Syncer) Sync(ctx context.Context) (string, error) {
	logger := logging.FromContext(ctx).WithField("service", s.cfg.Service)
	logger.Info("starting configuration sync")

	contentType, payload, err := s.readConfiguration(ctx)
	if err != nil {
		return "", err
	}

	entries, err := envfile.Parse(contentType, payload)
	if err != nil {
		return "", err
	}
	logger.Infof("parsed %d variables", len(entries))

	ref, err := s.currentTaskDefinition(ctx)
	if err != nil {
		return "", err
	}

	dt, err := s.ecs.DescribeTaskDefinitionWithContext(ctx, &ecs.DescribeTaskDefinitionInput{
		TaskDefinition: aws.String(ref),
	})
	if err != nil {
		return "", fault.Collaborator("could not describe task definition", err)
	}
	if dt.TaskDefinition == nil {
		return "", fault.Invalid("task definition not found: %s", ref)
	}

	err = setEnvironment(dt.TaskDefinition, s.cfg.Container, entries)
	if err != nil {
		return "", err
	}

	doc, err := toDocument(dt.TaskDefinition)
	if err != nil {
		return "", err
	}
	doc.strip()

	input, err := doc.registerInput()
	if err != nil {
		return "", err
	}

	reg, err := s.ecs.RegisterTaskDefinitionWithContext(ctx, input)
	if err != nil {
		return "", fault.Collaborator("could not register task definition", err)
	}
	if reg.TaskDefinition == nil {
		return "", fault.Invalid("registration returned no task definition")
	}
	arn := aws.StringValue(reg.TaskDefinition.TaskDefinitionArn)
	logger.WithField("task_definition", arn).Info("registered task definition")

	_, err = s.ecs.UpdateServiceWithContext(ctx, &ecs.UpdateServiceInput{
		Cluster:            aws.String(s.cfg.Cluster),
		Service:            aws.String(s.cfg.Service),
		TaskDefinition:     aws.String(arn),
		ForceNewDeployment: aws.Bool(true),
	})
	if err != nil {
		return "", fault.Collaborator(fmt.Sprintf("could not update service to %s", arn), err)
	}

	logger.WithField("task_definition", arn).Info("service redeploying")
	return arn, nil
}

func (s *Syncer) readConfiguration(ctx context.Context) (string, []byte, error) {

	sess, err := s.store.StartConfigurationSessionWithContext(ctx, &appconfigdata.StartConfigurationSessionInput{
		ApplicationIdentifier:          aws.String(s.cfg.Application),
		EnvironmentIdentifier:          aws.String(s.cfg.Environment),
		ConfigurationProfileIdentifier: aws.String(s.cfg.Profile),
	})
	if err != nil {
		return "", nil, fault.Collaborator("configuration read failed", err)
	}

	out, err := s.store.GetLatestConfigurationWithContext(ctx, &appconfigdata.GetLatestConfigurationInput{
		ConfigurationToken: sess.InitialConfigurationToken,
	})
	if err != nil {
		return "", nil, fault.Collaborator("configuration read failed", err)
	}
	return aws.StringValue(out.ContentType), out.Configuration, nil
}

// currentTaskDefinition returns the task definition the service runs now
func (s *Syncer) currentTaskDefinition(ctx context.Context) (string, error) {

	out, err := s.ecs.DescribeServicesWithContext(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(s.cfg.Cluster),
		Services: aws.StringSlice([]string{s.cfg.Service}),
	})
	if err != nil {
		return "", fault.Collaborator("could not describe service", err)
	}
	if len(out.Services) == 0 {
		return "", fault.Invalid("service not found: %s", s.cfg.Service)
	}
	return aws.StringValue(out.Services[0].TaskDefinition), nil
}
