package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/aws/aws-lambda-go/events"

	"github.com/flowency-live/opsstack-builder-sub001/internal/aws"
	"github.com/flowency-live/opsstack-builder-sub001/internal/submission"
)

// Processor handles submission notifications and moves each submission
// into the review pipeline.
type Processor struct {
	submissions *submission.Store
	metrics     *aws.Metrics
}

// NewProcessor creates a worker processor with AWS clients injected.
func NewProcessor(clients *aws.AWSClients, tableName string) *Processor {
	return &Processor{
		submissions: submission.NewStore(clients.DynamoDB, tableName),
		metrics:     aws.NewMetrics(clients.CloudWatch, "OpsStackBuilder"),
	}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			log.Printf("worker error: %v", err)
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg submission.NotificationMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	log.Printf("[worker] received submission=%s ref=%s corr=%s",
		msg.SubmissionID, msg.ReferenceNumber, msg.CorrelationID)

	sub, err := p.submissions.Get(ctx, msg.SubmissionID)
	if err != nil {
		// Should never happen once the notification was sent — DLQ if it does.
		return fmt.Errorf("fetch submission: %w", err)
	}

	// pending -> reviewed, idempotent across duplicate deliveries.
	err = p.submissions.UpdateStatus(ctx, msg.SubmissionID, submission.StatusPending, submission.StatusReviewed)
	if err == submission.ErrStatusMismatch {
		switch sub.Status {
		case submission.StatusReviewed, submission.StatusQuoted:
			log.Printf("[worker] submission=%s already %s, skipping duplicate", msg.SubmissionID, sub.Status)
			return nil
		default:
			return fmt.Errorf("unexpected status for submission=%s: %s", msg.SubmissionID, sub.Status)
		}
	}
	if err != nil {
		return fmt.Errorf("transition submission to reviewed: %w", err)
	}

	if err := p.metrics.Count(ctx, "SubmissionReviewed", 1, map[string]string{"Reference": msg.ReferenceNumber}); err != nil {
		// metrics are advisory; never fail the message on them
		log.Printf("[worker] metric emit failed: %v", err)
	}

	log.Printf("[worker] submission=%s moved to reviewed", msg.SubmissionID)
	return nil
}
