// Package logging sets up apex/log for Lambda and hands out per-invocation loggers.
package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/aws/aws-lambda-go/lambdacontext"
)

// Init writes JSON entries to stdout at the level named by LOG_LEVEL (default info)
func Init() {
	Setup(os.Stdout, os.Getenv("LOG_LEVEL"))
}

// Setup writes JSON entries to w at the given level. An unknown level falls back to info.
func Setup(w io.Writer, level string) {
	log.SetHandler(json.New(w))

	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

// FromContext returns a logger tagged with the invocation's request id, if any
func FromContext(ctx context.Context) log.Interface {
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		return log.WithField("request_id", lc.AwsRequestID)
	}
	return log.Log
}
