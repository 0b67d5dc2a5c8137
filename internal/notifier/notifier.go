// Package notifier publishes run outcomes to an SNS topic.
// Delivery problems are logged and never returned to the caller.
package notifier

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sns"

	"github.com/UKHomeOffice/albsync/internal/logging"
)

// maxSubject is the SNS limit on subject length
const maxSubject = 100

// Publisher is an abstraction (helpful for testing)
type Publisher interface {
	PublishWithContext(aws.Context, *sns.PublishInput, ...request.Option) (*sns.PublishOutput, error)
}

// Notifier sends notifications to one topic
type Notifier struct {
	pub   Publisher
	topic string
}

// New returns a notifier for topic. An empty topic disables publishing.
func New(p Publisher, topic string) *Notifier {
	return &Notifier{pub: p, topic: topic}
}

// Notify publishes subject and message
func (n *Notifier) Notify(ctx context.Context, subject, message string) {
	logger := logging.FromContext(ctx).WithField("subject", subject)

	if n.topic == "" {
		logger.Debug("no topic configured, notification skipped")
		return
	}

	if len(subject) > maxSubject {
		subject = subject[:maxSubject]
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(n.topic),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	}

	out, err := n.pub.PublishWithContext(ctx, input)
	if err != nil {
		logger.WithError(err).Error("could not publish notification")
		return
	}
	logger.WithField("message_id", aws.StringValue(out.MessageId)).Info("notification sent")
}
