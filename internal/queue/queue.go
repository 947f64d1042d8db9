// Package queue carries accepted submissions from the API to the analysis
// worker over SQS. Oversized payloads are offloaded to blob storage so the
// envelope stays under the transport's 256 KB message ceiling; delivery is
// staggered by queue depth to spread load on the AI backend.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"

	"github.com/somdiproy/smartcode-review/internal/blob"
	"github.com/somdiproy/smartcode-review/internal/domain"
)

// OffloadThreshold is the payload size, in characters, above which code
// leaves the envelope for blob storage. Chosen below the 262,144-byte SQS
// ceiling to leave room for envelope metadata and encoding overhead.
const OffloadThreshold = 256_000

// Delay staggering defaults, matching the AI backend's sustainable pace.
const (
	DefaultBaseDelay       = 30 * time.Second
	DefaultDelayPerMessage = 10 * time.Second
	DefaultMaxDelay        = 300 * time.Second
)

// ErrQueue wraps transport failures on the submission path.
var ErrQueue = errors.New("submission queue failure")

// SQSAPI is the slice of the SQS client the queue needs. Tests supply fakes.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Config tunes the submission queue. Zero fields take package defaults.
type Config struct {
	BaseDelay       time.Duration
	DelayPerMessage time.Duration
	MaxDelay        time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.DelayPerMessage <= 0 {
		c.DelayPerMessage = DefaultDelayPerMessage
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	return c
}

// SubmissionQueue builds queue envelopes, offloads oversized payloads, and
// sends them over SQS with a depth-derived delivery delay.
type SubmissionQueue struct {
	client   SQSAPI
	queueURL string
	blobs    blob.Store
	cfg      Config
	now      func() time.Time
}

// New constructs a SubmissionQueue. blobs may be nil when offloading is
// disabled; payloads over the threshold then travel inline and may be
// rejected by the transport.
func New(client SQSAPI, queueURL string, blobs blob.Store, cfg Config) *SubmissionQueue {
	return &SubmissionQueue{
		client:   client,
		queueURL: queueURL,
		blobs:    blobs,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// Submit envelopes the payload and sends it. Payloads above the offload
// threshold are stored in blob storage and referenced by key; when that
// store is unavailable the payload falls back to inline delivery so a
// degraded blob tier never drops a submission outright.
func (q *SubmissionQueue) Submit(ctx context.Context, analysisID, code, language string) (*domain.QueueMessage, error) {
	msg := &domain.QueueMessage{
		AnalysisID:   analysisID,
		Language:     language,
		Timestamp:    q.now().UnixMilli(),
		CodeLocation: domain.CodeLocationInline,
		Code:         code,
	}

	if len(code) > OffloadThreshold && q.blobs != nil {
		key, err := q.blobs.Put(ctx, analysisID, code)
		if err != nil {
			log.Warn().Err(err).
				Str("analysis_id", analysisID).
				Int("chars", len(code)).
				Msg("blob offload failed, sending payload inline")
		} else {
			msg.CodeLocation = domain.CodeLocationS3
			msg.S3Key = key
			msg.Code = ""
		}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal envelope: %v", ErrQueue, err)
	}

	delay := q.messageDelay(ctx)
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delay,
		MessageAttributes: map[string]types.MessageAttributeValue{
			"analysisId": {
				DataType:    aws.String("String"),
				StringValue: aws.String(analysisID),
			},
			"language": {
				DataType:    aws.String("String"),
				StringValue: aws.String(language),
			},
			"submittedAt": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.FormatInt(msg.Timestamp, 10)),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: send message: %v", ErrQueue, err)
	}

	log.Info().
		Str("analysis_id", analysisID).
		Str("code_location", msg.CodeLocation).
		Int32("delay_seconds", delay).
		Int("body_bytes", len(body)).
		Msg("analysis submitted to queue")
	return msg, nil
}

// Depth returns the approximate number of messages in the queue across
// visible, in-flight, and delayed, or -1 when the attribute call fails.
func (q *SubmissionQueue) Depth(ctx context.Context) int {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(q.queueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
			types.QueueAttributeNameApproximateNumberOfMessagesDelayed,
		},
	})
	if err != nil {
		log.Warn().Err(err).Msg("queue depth lookup failed")
		return -1
	}

	total := 0
	for _, name := range []types.QueueAttributeName{
		types.QueueAttributeNameApproximateNumberOfMessages,
		types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		types.QueueAttributeNameApproximateNumberOfMessagesDelayed,
	} {
		if v, ok := out.Attributes[string(name)]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				total += n
			}
		}
	}
	return total
}

// messageDelay derives a delivery delay from current depth: base plus a
// per-queued-message increment, capped. A failed depth lookup falls back to
// the base delay.
func (q *SubmissionQueue) messageDelay(ctx context.Context) int32 {
	depth := q.Depth(ctx)
	if depth < 0 {
		return int32(q.cfg.BaseDelay / time.Second)
	}
	d := q.cfg.BaseDelay + time.Duration(depth)*q.cfg.DelayPerMessage
	if d > q.cfg.MaxDelay {
		d = q.cfg.MaxDelay
	}
	return int32(d / time.Second)
}

// Receive pulls up to max envelopes with long polling, for the worker side.
func (q *SubmissionQueue) Receive(ctx context.Context, max int32) ([]ReceivedMessage, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     20,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: receive: %v", ErrQueue, err)
	}

	msgs := make([]ReceivedMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		var env domain.QueueMessage
		if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &env); err != nil {
			log.Error().Err(err).Str("message_id", aws.ToString(m.MessageId)).Msg("dropping malformed queue message")
			continue
		}
		msgs = append(msgs, ReceivedMessage{
			Envelope:      env,
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return msgs, nil
}

// Delete acknowledges a consumed message.
func (q *SubmissionQueue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("%w: delete: %v", ErrQueue, err)
	}
	return nil
}

// ReceivedMessage pairs a decoded envelope with its receipt handle.
type ReceivedMessage struct {
	Envelope      domain.QueueMessage
	ReceiptHandle string
}
