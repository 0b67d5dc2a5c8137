// Function configsync starts AppConfig, ECS and SNS sessions and hands over to package configsync.
package main

import (
	"context"

	"github.com/apex/log"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/appconfigdata"
	"github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/sns"

	"github.com/UKHomeOffice/albsync/internal/config"
	"github.com/UKHomeOffice/albsync/internal/logging"
	"github.com/UKHomeOffice/albsync/internal/notifier"
	"github.com/UKHomeOffice/albsync/pkg/configsync"
)

var syncer *configsync.Syncer

func init() {
	logging.Init()

	sc, err := config.SyncFromEnv()
	if err != nil {
		log.WithError(err).Fatal("could not load configuration")
	}

	sess := session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	cfg := config.AWS()

	syncer = configsync.NewSyncer(
		appconfigdata.New(sess, cfg),
		ecs.New(sess, cfg),
		notifier.New(sns.New(sess, cfg), sc.TopicARN),
		sc,
	)
}

func handler(ctx context.Context) (string, error) {
	return syncer.Handle(ctx)
}

func main() {
	lambda.Start(handler)
}
