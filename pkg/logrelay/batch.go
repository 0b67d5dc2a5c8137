package logrelay

import (
	"unicode/utf8"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
)

// PutLogEvents service limits
const (
	maxBatchEvents = 10000
	maxBatchBytes  = 1048576
	eventOverhead  = 26
	maxEventBytes  = maxBatchBytes - eventOverhead
)

// batches splits events into consecutive runs that each fit one PutLogEvents call
func batches(events []*cloudwatchlogs.InputLogEvent) [][]*cloudwatchlogs.InputLogEvent {
	var out [][]*cloudwatchlogs.InputLogEvent

	start, size := 0, 0
	for i, e := range events {
		n := len(aws.StringValue(e.Message)) + eventOverhead
		if i > start && (i-start == maxBatchEvents || size+n > maxBatchBytes) {
			out = append(out, events[start:i])
			start, size = i, 0
		}
		size += n
	}
	if start < len(events) {
		out = append(out, events[start:])
	}
	return out
}

// truncate cuts msg to the per-event limit on a rune boundary
func truncate(msg string) string {
	if len(msg) <= maxEventBytes {
		return msg
	}
	n := maxEventBytes
	for n > 0 && !utf8.RuneStart(msg[n]) {
		n--
	}
	return msg[:n]
}
