// Package logrelay copies gzipped ALB access logs from S3 into a CloudWatch Logs stream.
//
// The trigger is expected to carry a single S3 record; only the first one is read.
package logrelay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/apex/log"
	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"

	"github.com/UKHomeOffice/albsync/internal/config"
	"github.com/UKHomeOffice/albsync/internal/fault"
	"github.com/UKHomeOffice/albsync/internal/lines"
	"github.com/UKHomeOffice/albsync/internal/logging"
)

// ObjectGetter is an abstraction (helpful for testing)
type ObjectGetter interface {
	GetObjectWithContext(aws.Context, *s3.GetObjectInput, ...request.Option) (*s3.GetObjectOutput, error)
}

// LogSink is the subset of CloudWatch Logs the relay needs
type LogSink interface {
	CreateLogGroupWithContext(aws.Context, *cloudwatchlogs.CreateLogGroupInput, ...request.Option) (*cloudwatchlogs.CreateLogGroupOutput, error)
	CreateLogStreamWithContext(aws.Context, *cloudwatchlogs.CreateLogStreamInput, ...request.Option) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEventsWithContext(aws.Context, *cloudwatchlogs.PutLogEventsInput, ...request.Option) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// Response is returned to Lambda on success
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Relay forwards log objects to one log stream
type Relay struct {
	s3   ObjectGetter
	logs LogSink
	cfg  config.Relay
	now  func() time.Time
}

// NewRelay returns a new relay
func NewRelay(og ObjectGetter, ls LogSink, cfg config.Relay) *Relay {
	return &Relay{s3: og, logs: ls, cfg: cfg, now: time.Now}
}

// Handle processes one S3 object-created notification
func (r *Relay) Handle(ctx context.Context, event events.S3Event) (Response, error) {
	logger := logging.FromContext(ctx)

	err := r.ensureDestination(ctx)
	if err != nil {
		return Response{}, err
	}

	bucket, key, err := objectFromEvent(event)
	if err != nil {
		logger.WithError(err).WithField("event", payload(event)).Error("could not read trigger")
		return Response{}, err
	}

	logger = logger.WithFields(log.Fields{"bucket": bucket, "key": key})
	if n := len(event.Records); n > 1 {
		logger.Warnf("event carries %d records, only the first is processed", n)
	}
	logger.Info("processing object")

	sent, size, err := r.relay(ctx, logger, bucket, key)
	if err != nil {
		logger.WithError(err).WithField("event", payload(event)).Error("could not process object")
		return Response{}, err
	}

	logger.WithFields(log.Fields{
		"records": sent,
		"size":    humanize.Bytes(uint64(size)),
	}).Info("log processing complete")
	return Response{StatusCode: http.StatusOK, Body: "Log processing complete"}, nil
}

func (r *Relay) relay(ctx context.Context, logger log.Interface, bucket, key string) (int, int, error) {
	text, err := r.fetch(ctx, logger, bucket, key)
	if err != nil {
		return 0, 0, err
	}

	records := toEvents(text, r.now().UnixMilli())
	if len(records) == 0 {
		logger.Info("object has no log lines")
		return 0, len(text), nil
	}

	for _, batch := range batches(records) {
		err := r.put(ctx, logger, batch)
		if err != nil {
			return 0, 0, err
		}
	}
	return len(records), len(text), nil
}

// ensureDestination creates the log group and stream unless they already exist
func (r *Relay) ensureDestination(ctx context.Context) error {

	_, err := r.logs.CreateLogGroupWithContext(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(r.cfg.LogGroup),
	})
	if err != nil && !alreadyExists(err) {
		return fault.Collaborator("could not create log group", err)
	}

	_, err = r.logs.CreateLogStreamWithContext(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(r.cfg.LogGroup),
		LogStreamName: aws.String(r.cfg.LogStream),
	})
	if err != nil && !alreadyExists(err) {
		return fault.Collaborator("could not create log stream", err)
	}
	return nil
}

func alreadyExists(err error) bool {
	aerr, ok := err.(awserr.Error)
	return ok && aerr.Code() == cloudwatchlogs.ErrCodeResourceAlreadyExistsException
}

// objectFromEvent reads bucket and key of the first record
func objectFromEvent(event events.S3Event) (string, string, error) {
	if len(event.Records) == 0 {
		return "", "", fault.Invalid("no S3 object in event")
	}

	e := event.Records[0].S3
	key := e.Object.URLDecodedKey
	if key == "" {
		key = e.Object.Key
	}
	if e.Bucket.Name == "" || key == "" {
		return "", "", fault.Invalid("no S3 object in event")
	}
	return e.Bucket.Name, key, nil
}

func payload(event events.S3Event) string {
	b, err := json.Marshal(event)
	if err != nil {
		return err.Error()
	}
	return string(b)
}

func (r *Relay) fetch(ctx context.Context, logger log.Interface, bucket, key string) (string, error) {

	out, err := r.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fault.Collaborator("could not get object", err)
	}
	defer out.Body.Close()

	zr, err := gzip.NewReader(out.Body)
	if err != nil {
		return "", fault.Invalid("could not open gzip stream: %v", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return "", fault.Collaborator("could not decompress object", err)
	}
	if !utf8.Valid(raw) {
		return "", fault.Invalid("object is not UTF-8 text")
	}

	logger.Debugf("read %s compressed, %s decompressed",
		humanize.Bytes(uint64(aws.Int64Value(out.ContentLength))), humanize.Bytes(uint64(len(raw))))
	return string(raw), nil
}

// toEvents builds one record per non-blank line, all sharing ts
func toEvents(text string, ts int64) []*cloudwatchlogs.InputLogEvent {
	records := make([]*cloudwatchlogs.InputLogEvent, 0)
	for _, line := range lines.Split(text) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		records = append(records, &cloudwatchlogs.InputLogEvent{
			Timestamp: aws.Int64(ts),
			Message:   aws.String(truncate(line)),
		})
	}
	return records
}

func (r *Relay) put(ctx context.Context, logger log.Interface, batch []*cloudwatchlogs.InputLogEvent) error {

	input := &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(r.cfg.LogGroup),
		LogStreamName: aws.String(r.cfg.LogStream),
		LogEvents:     batch,
	}

	out, err := r.logs.PutLogEventsWithContext(ctx, input)
	if err != nil {
		return fault.Collaborator("could not put log events", err)
	}

	if rej := out.RejectedLogEventsInfo; rej != nil {
		logger.WithField("rejected", rej.String()).Warn("some log events were rejected")
	}
	logger.Debugf("sent %d log events", len(batch))
	return nil
}
