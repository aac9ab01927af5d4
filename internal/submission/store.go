// Package submission persists completed handoffs and their
// reference-number lookup index.
package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/flowency-live/opsstack-builder-sub001/internal/aws"
	"github.com/flowency-live/opsstack-builder-sub001/internal/schema"
	"github.com/flowency-live/opsstack-builder-sub001/internal/session"
)

// ErrStatusMismatch indicates a conditional status transition found the
// submission in a different state than expected.
var ErrStatusMismatch = errors.New("submission status mismatch")

// Store encapsulates submission operations against the shared table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
	newID     func() string
}

// NewStore returns a submission Store bound to the shared table.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
		newID:     uuid.NewString,
	}
}

// Create atomically writes the submission metadata row and flips the
// owning session to status=submitted in one transaction. The submission
// put is conditional on its key not existing; the session update is
// conditional on the session existing.
func (s *Store) Create(ctx context.Context, sessionID string, contact ContactInfo, specVersion int) (*Submission, error) {
	now := s.nowFunc().UTC()
	sub := &Submission{
		ID:                   s.newID(),
		SessionID:            sessionID,
		Contact:              contact,
		SpecificationVersion: specVersion,
		SubmittedAt:          now,
		Status:               StatusPending,
		ReferenceNumber:      referenceNumber(s.newID()),
	}

	item, err := marshalRecord(sub)
	if err != nil {
		return nil, err
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                item,
					ConditionExpression: awsString("attribute_not_exists(PK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: &s.tableName,
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: schema.SessionPK(sessionID)},
						"SK": &types.AttributeValueMemberS{Value: schema.SKMetadata},
					},
					UpdateExpression:         awsString("SET #st = :st, lastAccessedAt = :la"),
					ExpressionAttributeNames: map[string]string{"#st": "status"},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":st": &types.AttributeValueMemberS{Value: session.StatusSubmitted},
						":la": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
					},
					ConditionExpression: awsString("attribute_exists(PK)"),
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return nil, fmt.Errorf("create submission for session %s: %w", sessionID, session.ErrNotFound)
		}
		return nil, fmt.Errorf("create submission: %w", err)
	}
	return sub, nil
}

// Get fetches a submission by id. Returns ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, submissionID string) (*Submission, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: schema.SubmissionPK(submissionID)},
			"SK": &types.AttributeValueMemberS{Value: schema.SKMetadata},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("submission %s: %w", submissionID, session.ErrNotFound)
	}
	return unmarshalItem(out.Item)
}

// GetByReference resolves a human-shareable reference number through the
// GSI1 index.
func (s *Store) GetByReference(ctx context.Context, referenceNumber string) (*Submission, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(schema.GSI1Name),
		KeyConditionExpression: awsString("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: schema.ReferenceGSI1PK(referenceNumber)},
		},
		Limit: awsInt32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("reference lookup: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("reference %s: %w", referenceNumber, session.ErrNotFound)
	}
	return unmarshalItem(out.Items[0])
}

// UpdateStatus conditionally transitions expected -> newStatus. Returns
// ErrStatusMismatch when the stored status differs from expected.
func (s *Store) UpdateStatus(ctx context.Context, submissionID, expectedStatus, newStatus string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: schema.SubmissionPK(submissionID)},
			"SK": &types.AttributeValueMemberS{Value: schema.SKMetadata},
		},
		UpdateExpression:         awsString("SET #st = :new"),
		ExpressionAttributeNames: map[string]string{"#st": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: newStatus},
			":expected": &types.AttributeValueMemberS{Value: expectedStatus},
		},
		ConditionExpression: awsString("#st = :expected"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update submission status: %w", err)
	}
	return nil
}

// referenceNumber derives a human-shareable reference from a fresh
// 128-bit identifier, e.g. REF-3FA29C1B.
func referenceNumber(id string) string {
	compact := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	return "REF-" + compact[:8]
}

func marshalRecord(sub *Submission) (map[string]types.AttributeValue, error) {
	contact, err := json.Marshal(sub.Contact)
	if err != nil {
		return nil, fmt.Errorf("marshal contact info: %w", err)
	}
	rec := record{
		PK:                   schema.SubmissionPK(sub.ID),
		SK:                   schema.SKMetadata,
		SubmissionID:         sub.ID,
		SessionID:            sub.SessionID,
		ContactInfo:          string(contact),
		SpecificationVersion: sub.SpecificationVersion,
		SubmittedAt:          sub.SubmittedAt.UTC().Format(time.RFC3339),
		Status:               sub.Status,
		ReferenceNumber:      sub.ReferenceNumber,
		GSI1PK:               schema.ReferenceGSI1PK(sub.ReferenceNumber),
		GSI1SK:               sub.SubmittedAt.UTC().Format(time.RFC3339),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal submission record: %w", err)
	}
	return item, nil
}

func unmarshalItem(item map[string]types.AttributeValue) (*Submission, error) {
	var rec record
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal submission: %w", err)
	}
	sub := &Submission{
		ID:                   rec.SubmissionID,
		SessionID:            rec.SessionID,
		SpecificationVersion: rec.SpecificationVersion,
		Status:               rec.Status,
		ReferenceNumber:      rec.ReferenceNumber,
	}
	if err := json.Unmarshal([]byte(rec.ContactInfo), &sub.Contact); err != nil {
		return nil, fmt.Errorf("unmarshal contact info: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339, rec.SubmittedAt); err == nil {
		sub.SubmittedAt = ts
	}
	return sub, nil
}

// Helpers
func awsString(s string) *string { return &s }
func awsInt32(n int32) *int32    { return &n }
