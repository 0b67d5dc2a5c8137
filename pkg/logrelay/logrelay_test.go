package logrelay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/events/test"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs/cloudwatchlogsiface"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/dustin/go-humanize"
	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/gjson"

	"github.com/UKHomeOffice/albsync/internal/config"
	"github.com/UKHomeOffice/albsync/internal/fault"
	"github.com/UKHomeOffice/albsync/internal/logging"
)

type mockS3 struct {
	s3iface.S3API
	body  []byte
	err   error
	input *s3.GetObjectInput
}

func (m *mockS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	m.input = in
	if m.err != nil {
		return nil, m.err
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(m.body)),
		ContentLength: aws.Int64(int64(len(m.body))),
	}, nil
}

type mockLogs struct {
	cloudwatchlogsiface.CloudWatchLogsAPI
	groupErr  error
	streamErr error
	putErr    error
	groups    int
	streams   int
	puts      []*cloudwatchlogs.PutLogEventsInput
}

func (m *mockLogs) CreateLogGroupWithContext(_ aws.Context, in *cloudwatchlogs.CreateLogGroupInput, _ ...request.Option) (*cloudwatchlogs.CreateLogGroupOutput, error) {
	m.groups++
	return &cloudwatchlogs.CreateLogGroupOutput{}, m.groupErr
}

func (m *mockLogs) CreateLogStreamWithContext(_ aws.Context, in *cloudwatchlogs.CreateLogStreamInput, _ ...request.Option) (*cloudwatchlogs.CreateLogStreamOutput, error) {
	m.streams++
	return &cloudwatchlogs.CreateLogStreamOutput{}, m.streamErr
}

func (m *mockLogs) PutLogEventsWithContext(_ aws.Context, in *cloudwatchlogs.PutLogEventsInput, _ ...request.Option) (*cloudwatchlogs.PutLogEventsOutput, error) {
	m.puts = append(m.puts, in)
	if m.putErr != nil {
		return nil, m.putErr
	}
	return &cloudwatchlogs.PutLogEventsOutput{}, nil
}

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("could not compress fixture: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("could not compress fixture: %v", err)
	}
	return buf.Bytes()
}

func s3Event(t *testing.T) events.S3Event {
	t.Helper()
	var e events.S3Event
	if err := json.Unmarshal(test.ReadJSONFromFile(t, "testdata/s3_event.json"), &e); err != nil {
		t.Fatalf("could not unmarshal event: %v", err)
	}
	return e
}

var (
	relayConfig = config.Relay{LogGroup: "/aws/alb/access-logs", LogStream: "alb-stream"}
	fixedNow    = time.Date(2024, 5, 1, 10, 15, 30, 0, time.UTC)
	exists      = awserr.New(cloudwatchlogs.ErrCodeResourceAlreadyExistsException, "The specified log group already exists", nil)

	albLines = []string{
		`h2 2024-05-01T10:14:59.123456Z app/web/50dc6c495c0c9188 10.0.0.1:443 10.0.1.2:80 0.000 0.001 0.000 200 200 34 366 "GET https://example.com:443/ HTTP/2.0" "curl/8.0" - - - "Root=1-abc" "-" "-" 0 2024-05-01T10:14:59.120000Z "forward" "-" "-" "10.0.1.2:80" "200" "-" "-"`,
		`h2 2024-05-01T10:14:59.223456Z app/web/50dc6c495c0c9188 10.0.0.3:443 10.0.1.2:80 0.000 0.002 0.000 404 404 34 120 "GET https://example.com:443/missing HTTP/2.0" "curl/8.0" - - - "Root=1-def" "-" "-" 1 2024-05-01T10:14:59.220000Z "forward" "-" "-" "10.0.1.2:80" "404" "-" "-"`,
		`  indented line kept verbatim`,
	}
)

func TestHandle(t *testing.T) {

	tt := []struct {
		name      string
		body      []byte
		getErr    error
		groupErr  error
		streamErr error
		putErr    error
		messages  []string
		puts      int
		kind      fault.Kind
		err       string
	}{
		{name: "happy", body: gzipped(t, albLines[0]+"\n\n"+albLines[1]+"\r\n   \n"+albLines[2]+"\n"), messages: albLines, puts: 1},
		{name: "classic_mac", body: gzipped(t, albLines[0]+"\r"+albLines[1]+"\r\r"), messages: albLines[:2], puts: 1},
		{name: "destination_exists", body: gzipped(t, albLines[0]), groupErr: exists, streamErr: exists, messages: albLines[:1], puts: 1},
		{name: "blank_object", body: gzipped(t, "\n  \n\t\n")},
		{name: "empty_object", body: gzipped(t, "")},
		{name: "group_denied", groupErr: errors.New("AccessDeniedException"), kind: fault.CollaboratorKind, err: "could not create log group"},
		{name: "stream_denied", streamErr: errors.New("AccessDeniedException"), kind: fault.CollaboratorKind, err: "could not create log stream"},
		{name: "missing_object", getErr: errors.New("NoSuchKey"), kind: fault.CollaboratorKind, err: "could not get object: NoSuchKey"},
		{name: "not_gzip", body: []byte("plain text"), kind: fault.ValidationKind, err: "could not open gzip stream"},
		{name: "not_text", body: gzipped(t, "\xff\xfe\xfd"), kind: fault.ValidationKind, err: "not UTF-8"},
		{name: "put_throttled", body: gzipped(t, albLines[0]), putErr: errors.New("ThrottlingException"), puts: 1, kind: fault.CollaboratorKind, err: "could not put log events"},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {

			ms := &mockS3{body: tc.body, err: tc.getErr}
			ml := &mockLogs{groupErr: tc.groupErr, streamErr: tc.streamErr, putErr: tc.putErr}
			r := NewRelay(ms, ml, relayConfig)
			r.now = func() time.Time { return fixedNow }

			res, err := r.Handle(context.Background(), s3Event(t))

			if len(ml.puts) != tc.puts {
				t.Fatalf("expected %d put calls, got %d", tc.puts, len(ml.puts))
			}

			if tc.err != "" {
				if err == nil {
					t.Fatalf("expected error %q, got none", tc.err)
				}
				if msg := err.Error(); !strings.Contains(msg, tc.err) {
					t.Errorf("expected error %q, got: %q", tc.err, msg)
				}
				if k := fault.KindOf(err); k != tc.kind {
					t.Errorf("expected %v failure, got %v", tc.kind, k)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			want := Response{StatusCode: 200, Body: "Log processing complete"}
			if diff := cmp.Diff(want, res); diff != "" {
				t.Errorf("unexpected response (-want +got):\n%s", diff)
			}

			if ml.groups != 1 || ml.streams != 1 {
				t.Errorf("expected one group and one stream create, got %d and %d", ml.groups, ml.streams)
			}

			// only the first record is read
			wantKey := "AWSLogs/123456789012/elasticloadbalancing/eu-west-2/2024/05/01/app web.log.gz"
			if got := aws.StringValue(ms.input.Key); got != wantKey {
				t.Errorf("expected key %q, got %q", wantKey, got)
			}
			if got := aws.StringValue(ms.input.Bucket); got != "alb-access-logs" {
				t.Errorf("expected bucket alb-access-logs, got %q", got)
			}

			if tc.puts == 0 {
				return
			}
			put := ml.puts[0]
			if aws.StringValue(put.LogGroupName) != relayConfig.LogGroup || aws.StringValue(put.LogStreamName) != relayConfig.LogStream {
				t.Errorf("wrong destination: %v/%v", aws.StringValue(put.LogGroupName), aws.StringValue(put.LogStreamName))
			}

			var got []string
			for _, e := range put.LogEvents {
				got = append(got, aws.StringValue(e.Message))
				if ts := aws.Int64Value(e.Timestamp); ts != fixedNow.UnixMilli() {
					t.Errorf("expected shared timestamp %d, got %d", fixedNow.UnixMilli(), ts)
				}
			}
			if diff := cmp.Diff(tc.messages, got); diff != "" {
				t.Errorf("unexpected messages (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHandleBadEvent(t *testing.T) {

	tt := []struct {
		name  string
		event events.S3Event
	}{
		{name: "no_records", event: events.S3Event{Records: []events.S3EventRecord{}}},
		{name: "no_key", event: events.S3Event{Records: []events.S3EventRecord{{
			S3: events.S3Entity{Bucket: events.S3Bucket{Name: "alb-access-logs"}},
		}}}},
		{name: "not_s3"},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			ms := &mockS3{}
			r := NewRelay(ms, &mockLogs{}, relayConfig)

			_, err := r.Handle(context.Background(), tc.event)
			if err == nil || !strings.Contains(err.Error(), "no S3 object in event") {
				t.Errorf("expected missing object error, got: %v", err)
			}
			if ms.input != nil {
				t.Errorf("object fetched for a bad event")
			}
		})
	}
}

func TestHandleUndecodedKey(t *testing.T) {

	event := events.S3Event{Records: []events.S3EventRecord{{
		S3: events.S3Entity{
			Bucket: events.S3Bucket{Name: "alb-access-logs"},
			Object: events.S3Object{Key: "plain.log.gz"},
		},
	}}}

	ms := &mockS3{body: gzipped(t, albLines[0])}
	_, err := NewRelay(ms, &mockLogs{}, relayConfig).Handle(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := aws.StringValue(ms.input.Key); got != "plain.log.gz" {
		t.Errorf("expected raw key to be used, got %q", got)
	}
}

func TestHandleLogsSize(t *testing.T) {

	var buf bytes.Buffer
	logging.Setup(&buf, "info")
	defer logging.Setup(io.Discard, "info")

	text := strings.Repeat(albLines[0]+"\n", 3)
	r := NewRelay(&mockS3{body: gzipped(t, text)}, &mockLogs{}, relayConfig)

	_, err := r.Handle(context.Background(), s3Event(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var done gjson.Result
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if gjson.Get(line, "message").String() == "log processing complete" {
			done = gjson.Parse(line)
		}
	}
	if !done.Exists() {
		t.Fatalf("no completion entry in log output:\n%s", buf.String())
	}

	res := done.Get("fields")
	if got := res.Get("records").Int(); got != 3 {
		t.Errorf("expected 3 records logged, got %d", got)
	}
	if got, want := res.Get("size").String(), humanize.Bytes(uint64(len(text))); got != want {
		t.Errorf("expected size %q, got %q", want, got)
	}
}

func TestHandleLargeObject(t *testing.T) {

	var b strings.Builder
	for i := 0; i < maxBatchEvents+5; i++ {
		b.WriteString("line\n")
	}

	ml := &mockLogs{}
	r := NewRelay(&mockS3{body: gzipped(t, b.String())}, ml, relayConfig)
	r.now = func() time.Time { return fixedNow }

	_, err := r.Handle(context.Background(), s3Event(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ml.puts) != 2 {
		t.Fatalf("expected 2 put calls, got %d", len(ml.puts))
	}
	if n := len(ml.puts[0].LogEvents); n != maxBatchEvents {
		t.Errorf("expected first batch of %d, got %d", maxBatchEvents, n)
	}
	if n := len(ml.puts[1].LogEvents); n != 5 {
		t.Errorf("expected second batch of 5, got %d", n)
	}
}
