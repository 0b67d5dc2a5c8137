// Function logrelay starts S3 and CloudWatch Logs sessions and hands over to package logrelay.
package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/UKHomeOffice/albsync/internal/config"
	"github.com/UKHomeOffice/albsync/internal/logging"
	"github.com/UKHomeOffice/albsync/pkg/logrelay"
)

var relay *logrelay.Relay

func init() {
	logging.Init()

	sess := session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	cfg := config.AWS()

	relay = logrelay.NewRelay(s3.New(sess, cfg), cloudwatchlogs.New(sess, cfg), config.RelayFromEnv())
}

func handler(ctx context.Context, event events.S3Event) (logrelay.Response, error) {
	return relay.Handle(ctx, event)
}

func main() {
	lambda.Start(handler)
}
