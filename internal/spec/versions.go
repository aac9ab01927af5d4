package spec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/flowency-live/opsstack-builder-sub001/internal/aws"
	"github.com/flowency-live/opsstack-builder-sub001/internal/schema"
)

// ErrVersionConflict indicates a specification version row with this
// number already exists for the session. The caller must re-read the
// latest version and retry with a fresh number.
var ErrVersionConflict = errors.New("specification version already exists")

// Record is the persisted shape of one specification version row. The
// nested payloads are serialized JSON strings; those attribute names are
// the contract external tooling queries against.
type Record struct {
	PK                  string `dynamodbav:"PK"`
	SK                  string `dynamodbav:"SK"`
	SessionID           string `dynamodbav:"sessionId"`
	Version             int    `dynamodbav:"version"`
	PlainEnglishSummary string `dynamodbav:"plainEnglishSummary"`
	FormalPRD           string `dynamodbav:"formalPRD"`
	ProgressState       string `dynamodbav:"progressState"`
	CreatedAt           string `dynamodbav:"createdAt"`
	UpdatedAt           string `dynamodbav:"updatedAt"`
}

// VersionStore appends and reads immutable specification versions.
type VersionStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewVersionStore returns a VersionStore bound to the shared table.
func NewVersionStore(client aws.DynamoDBAPI, tableName string) *VersionStore {
	return &VersionStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// AppendVersion writes a new immutable version row. The caller chooses
// the version number (last known + 1); the write is conditional on the
// key not existing, so a concurrent duplicate surfaces as
// ErrVersionConflict instead of silently clobbering.
func (s *VersionStore) AppendVersion(ctx context.Context, sp Specification) error {
	if sp.Version < 1 {
		return fmt.Errorf("append version: version must be >= 1, got %d", sp.Version)
	}

	rec, err := EncodeRecord(sp)
	if err != nil {
		return fmt.Errorf("append version: %w", err)
	}
	now := s.nowFunc().UTC().Format(time.RFC3339)
	if sp.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal specification record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(SK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrVersionConflict
		}
		return fmt.Errorf("put specification version: %w", err)
	}
	return nil
}

// LatestVersion returns the version with the numerically largest version
// field, via a bounded descending range query over the SPEC# prefix.
// Returns (nil, nil) when the session has no versions; the caller
// substitutes the version-0 placeholder.
func (s *VersionStore) LatestVersion(ctx context.Context, sessionID string) (*Specification, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: awsString("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: schema.SessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: schema.SpecSKPrefix},
		},
		ScanIndexForward: awsBool(false),
		Limit:            awsInt32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query latest version: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}

	sp, err := decodeItem(out.Items[0])
	if err != nil {
		return nil, fmt.Errorf("latest version: %w", err)
	}
	return &sp, nil
}

// AllVersions returns every version in ascending order. Audit/history
// use only; the hot path never enumerates versions.
func (s *VersionStore) AllVersions(ctx context.Context, sessionID string) ([]Specification, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: awsString("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: schema.SessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: schema.SpecSKPrefix},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query all versions: %w", err)
	}

	specs := make([]Specification, 0, len(out.Items))
	for _, item := range out.Items {
		sp, err := decodeItem(item)
		if err != nil {
			return nil, fmt.Errorf("all versions: %w", err)
		}
		specs = append(specs, sp)
	}
	return specs, nil
}

// EncodeRecord serializes a Specification into its row shape.
func EncodeRecord(sp Specification) (Record, error) {
	summary, err := json.Marshal(sp.Summary)
	if err != nil {
		return Record{}, fmt.Errorf("marshal summary: %w", err)
	}
	prd, err := json.Marshal(sp.PRD)
	if err != nil {
		return Record{}, fmt.Errorf("marshal PRD: %w", err)
	}
	progress, err := json.Marshal(sp.Progress)
	if err != nil {
		return Record{}, fmt.Errorf("marshal progress: %w", err)
	}

	rec := Record{
		PK:                  schema.SessionPK(sp.SessionID),
		SK:                  schema.SpecSK(sp.Version),
		SessionID:           sp.SessionID,
		Version:             sp.Version,
		PlainEnglishSummary: string(summary),
		FormalPRD:           string(prd),
		ProgressState:       string(progress),
	}
	if !sp.CreatedAt.IsZero() {
		rec.CreatedAt = sp.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !sp.UpdatedAt.IsZero() {
		rec.UpdatedAt = sp.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return rec, nil
}

// DecodeRecord reverses EncodeRecord.
func DecodeRecord(rec Record) (Specification, error) {
	sp := Specification{
		SessionID: rec.SessionID,
		Version:   rec.Version,
	}
	if err := json.Unmarshal([]byte(rec.PlainEnglishSummary), &sp.Summary); err != nil {
		return Specification{}, fmt.Errorf("unmarshal summary: %w", err)
	}
	if err := json.Unmarshal([]byte(rec.FormalPRD), &sp.PRD); err != nil {
		return Specification{}, fmt.Errorf("unmarshal PRD: %w", err)
	}
	if err := json.Unmarshal([]byte(rec.ProgressState), &sp.Progress); err != nil {
		return Specification{}, fmt.Errorf("unmarshal progress: %w", err)
	}
	if rec.CreatedAt != "" {
		ts, err := time.Parse(time.RFC3339, rec.CreatedAt)
		if err != nil {
			return Specification{}, fmt.Errorf("parse createdAt: %w", err)
		}
		sp.CreatedAt = ts
	}
	if rec.UpdatedAt != "" {
		ts, err := time.Parse(time.RFC3339, rec.UpdatedAt)
		if err != nil {
			return Specification{}, fmt.Errorf("parse updatedAt: %w", err)
		}
		sp.UpdatedAt = ts
	}
	return sp, nil
}

func decodeItem(item map[string]types.AttributeValue) (Specification, error) {
	var rec Record
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return Specification{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return DecodeRecord(rec)
}

// Helpers
func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
func awsInt32(n int32) *int32    { return &n }
