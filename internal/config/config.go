// Package config loads handler settings from the Lambda environment.
package config

import (
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"

	"github.com/UKHomeOffice/albsync/internal/fault"
)

// Relay configures the log relay
type Relay struct {
	LogGroup  string
	LogStream string
}

// Sync configures the configuration sync
type Sync struct {
	Application string
	Environment string
	Profile     string
	Cluster     string
	Service     string
	Container   string
	TopicARN    string
}

// RelayFromEnv reads relay settings, falling back to the ALB defaults
func RelayFromEnv() Relay {
	return Relay{
		LogGroup:  getEnv("LOG_GROUP_NAME", "/aws/alb/access-logs"),
		LogStream: getEnv("LOG_STREAM_NAME", "alb-stream"),
	}
}

// SyncFromEnv reads sync settings and reports every missing variable at once
func SyncFromEnv() (Sync, error) {
	var missing []string
	required := func(key string) string {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	s := Sync{
		Application: required("APPCONFIG_APPLICATION"),
		Environment: required("APPCONFIG_ENVIRONMENT"),
		Profile:     required("APPCONFIG_PROFILE"),
		Cluster:     required("ECS_CLUSTER"),
		Service:     required("ECS_SERVICE"),
		Container:   required("ECS_CONTAINER"),
		TopicARN:    os.Getenv("SNS_TOPIC_ARN"),
	}

	if len(missing) > 0 {
		return Sync{}, fault.Invalid("missing environment: %s", strings.Join(missing, ", "))
	}
	return s, nil
}

// AWS returns SDK settings for the function's region. Without AWS_REGION the
// SDK's own resolution applies.
func AWS() *aws.Config {
	cfg := aws.NewConfig()
	if r := os.Getenv("AWS_REGION"); r != "" {
		cfg = cfg.WithRegion(r)
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}
