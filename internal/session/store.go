package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/flowency-live/opsstack-builder-sub001/internal/aws"
	"github.com/flowency-live/opsstack-builder-sub001/internal/schema"
	"github.com/flowency-live/opsstack-builder-sub001/internal/spec"
)

// Store orchestrates all session reads and writes against the shared
// table. There are no in-process locks; correctness relies on the key
// design and idempotent-append semantics.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	versions  *spec.VersionStore
	nowFunc   func() time.Time
	newID     func() string
}

// NewStore returns a Store bound to the shared table.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		versions:  spec.NewVersionStore(client, tableName),
		nowFunc:   time.Now,
		newID:     uuid.NewString,
	}
}

// Versions exposes the specification version store read-only consumers
// (export, audit) are handed.
func (s *Store) Versions() *spec.VersionStore { return s.versions }

// CreateSession generates a new id and writes the metadata row with
// status=active. It returns immediately with empty history and the
// version-0 specification placeholder.
func (s *Store) CreateSession(ctx context.Context) (*Session, error) {
	now := s.nowFunc().UTC()
	id := s.newID()

	rec := metadataRecord{
		PK:             schema.SessionPK(id),
		SK:             schema.SKMetadata,
		SessionID:      id,
		CreatedAt:      now.Format(time.RFC3339),
		LastAccessedAt: now.Format(time.RFC3339),
		Status:         StatusActive,
		TTL:            now.Add(TTLWindow).Unix(),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal session metadata: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(PK)"),
	})
	if err != nil {
		return nil, wrapStorageErr("create session", err)
	}

	return &Session{
		ID:                  id,
		CreatedAt:           now,
		LastAccessedAt:      now,
		Status:              StatusActive,
		TTL:                 rec.TTL,
		ConversationHistory: []Message{},
		Specification:       spec.Placeholder(id),
	}, nil
}

// GetSession reassembles the full session: metadata row, the complete
// MESSAGE# range, and the latest SPEC# row (or the version-0 placeholder
// when none exist). Bumps lastAccessedAt as a side effect.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.touch(ctx, id); err != nil {
		return nil, err
	}
	sess.LastAccessedAt = s.nowFunc().UTC()
	return sess, nil
}

// load reconstructs the session without bumping lastAccessedAt.
func (s *Store) load(ctx context.Context, id string) (*Session, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: schema.SessionPK(id)},
			"SK": &types.AttributeValueMemberS{Value: schema.SKMetadata},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, wrapStorageErr("get session metadata", err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	var meta metadataRecord
	if err := attributevalue.UnmarshalMap(out.Item, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal session metadata: %w", err)
	}

	history, err := s.queryMessages(ctx, id)
	if err != nil {
		return nil, err
	}

	// The read path never fails just because no versions exist yet.
	latest, err := s.versions.LatestVersion(ctx, id)
	if err != nil {
		return nil, wrapStorageErr("get latest specification", err)
	}
	sp := spec.Placeholder(id)
	if latest != nil {
		sp = *latest
	}

	sess := &Session{
		ID:                  meta.SessionID,
		Status:              meta.Status,
		MagicLinkToken:      meta.MagicLinkToken,
		TTL:                 meta.TTL,
		ConversationHistory: history,
		Specification:       sp,
		AskedTopics:         meta.AskedTopics,
	}
	if ts, err := time.Parse(time.RFC3339, meta.CreatedAt); err == nil {
		sess.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, meta.LastAccessedAt); err == nil {
		sess.LastAccessedAt = ts
	}
	return sess, nil
}

// queryMessages range-queries the MESSAGE# prefix and re-sorts by each
// row's own timestamp field (tie-broken by id). Key order alone is not
// trusted because concurrent writers can persist rows out of timestamp
// order.
func (s *Store) queryMessages(ctx context.Context, id string) ([]Message, error) {
	var items []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:              &s.tableName,
			KeyConditionExpression: awsString("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: schema.SessionPK(id)},
				":prefix": &types.AttributeValueMemberS{Value: schema.MessageSKPrefix},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, wrapStorageErr("query messages", err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	msgs := make([]Message, 0, len(items))
	for _, item := range items {
		var rec messageRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		msg := Message{
			ID:        rec.MessageID,
			SessionID: rec.SessionID,
			Role:      rec.Role,
			Content:   rec.Content,
			Metadata:  rec.Metadata,
		}
		if ts, err := time.Parse(schema.SortTimeFormat, rec.Timestamp); err == nil {
			msg.Timestamp = ts
		}
		msgs = append(msgs, msg)
	}

	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs, nil
}

// SaveSessionState performs a diff-based append: only messages absent
// from the stored history are written, and a new specification version
// row is written only when the version number changed. Repeated saves of
// the same state are idempotent at the message level. Bumps
// lastAccessedAt as the final step.
func (s *Store) SaveSessionState(ctx context.Context, id string, state *Session) error {
	stored, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	existing := make(map[string]bool, len(stored.ConversationHistory))
	for _, m := range stored.ConversationHistory {
		existing[m.ID] = true
	}

	for _, m := range state.ConversationHistory {
		if existing[m.ID] {
			continue
		}
		if err := s.putMessage(ctx, id, m); err != nil {
			return err
		}
	}

	if state.Specification.Version != stored.Specification.Version {
		sp := state.Specification
		sp.SessionID = id
		if err := s.versions.AppendVersion(ctx, sp); err != nil {
			if errors.Is(err, spec.ErrVersionConflict) {
				return err
			}
			return wrapStorageErr("append specification version", err)
		}
	}

	return s.finishSave(ctx, id, state)
}

// putMessage writes one message row. The key embeds the message's own id,
// so a retried write of the same message is a harmless overwrite of
// identical content; no condition expression is needed.
func (s *Store) putMessage(ctx context.Context, id string, m Message) error {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = s.nowFunc()
	}
	rec := messageRecord{
		PK:        schema.SessionPK(id),
		SK:        schema.MessageSK(ts, m.ID),
		SessionID: id,
		MessageID: m.ID,
		Role:      m.Role,
		Content:   m.Content,
		Timestamp: ts.UTC().Format(schema.SortTimeFormat),
		Metadata:  m.Metadata,
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		return wrapStorageErr("put message", err)
	}
	return nil
}

// finishSave bumps lastAccessedAt and carries status/askedTopics changes
// onto the metadata row.
func (s *Store) finishSave(ctx context.Context, id string, state *Session) error {
	now := s.nowFunc().UTC().Format(time.RFC3339)
	expr := "SET lastAccessedAt = :la"
	values := map[string]types.AttributeValue{
		":la": &types.AttributeValueMemberS{Value: now},
	}
	names := map[string]string{}

	if state.Status != "" {
		expr += ", #st = :st"
		names["#st"] = "status"
		values[":st"] = &types.AttributeValueMemberS{Value: state.Status}
	}
	if len(state.AskedTopics) > 0 {
		topics, err := attributevalue.Marshal(state.AskedTopics)
		if err != nil {
			return fmt.Errorf("marshal asked topics: %w", err)
		}
		expr += ", askedTopics = :at"
		values[":at"] = topics
	}

	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: schema.SessionPK(id)},
			"SK": &types.AttributeValueMemberS{Value: schema.SKMetadata},
		},
		UpdateExpression:          &expr,
		ExpressionAttributeValues: values,
		ConditionExpression:       awsString("attribute_exists(PK)"),
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = names
	}

	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return wrapStorageErr("update session metadata", err)
	}
	return nil
}

// touch bumps lastAccessedAt only. Conditional on the row existing:
// UpdateItem upserts, and an unconditional write racing a TTL sweep or
// data deletion would resurrect a phantom metadata row.
func (s *Store) touch(ctx context.Context, id string) error {
	now := s.nowFunc().UTC().Format(time.RFC3339)
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: schema.SessionPK(id)},
			"SK": &types.AttributeValueMemberS{Value: schema.SKMetadata},
		},
		UpdateExpression: awsString("SET lastAccessedAt = :la"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":la": &types.AttributeValueMemberS{Value: now},
		},
		ConditionExpression: awsString("attribute_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return wrapStorageErr("touch session", err)
	}
	return nil
}

// GenerateMagicLink mints a fresh token and attaches it to the session's
// metadata row along with the GSI1 lookup key. A session has at most one
// live token: issuing a new one supersedes the old by overwriting the
// same row (last writer wins, acceptable for a rare user action).
func (s *Store) GenerateMagicLink(ctx context.Context, id string) (string, error) {
	token := s.newID()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: schema.SessionPK(id)},
			"SK": &types.AttributeValueMemberS{Value: schema.SKMetadata},
		},
		UpdateExpression: awsString("SET magicLinkToken = :tok, GSI1PK = :gpk, GSI1SK = :gsk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tok": &types.AttributeValueMemberS{Value: token},
			":gpk": &types.AttributeValueMemberS{Value: schema.MagicLinkGSI1PK(token)},
			":gsk": &types.AttributeValueMemberS{Value: schema.SKMetadata},
		},
		ConditionExpression: awsString("attribute_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return "", fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return "", wrapStorageErr("generate magic link", err)
	}
	return token, nil
}

// RestoreSessionFromMagicLink resolves a token via the GSI1 index and
// delegates to GetSession. An unknown token or an expired session row is
// reported as ErrNotFound.
func (s *Store) RestoreSessionFromMagicLink(ctx context.Context, token string) (*Session, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(schema.GSI1Name),
		KeyConditionExpression: awsString("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: schema.MagicLinkGSI1PK(token)},
		},
		Limit: awsInt32(1),
	})
	if err != nil {
		return nil, wrapStorageErr("magic link lookup", err)
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("magic link: %w", ErrNotFound)
	}

	var meta metadataRecord
	if err := attributevalue.UnmarshalMap(out.Items[0], &meta); err != nil {
		return nil, fmt.Errorf("unmarshal magic link row: %w", err)
	}
	if meta.TTL > 0 && meta.TTL < s.nowFunc().Unix() {
		return nil, fmt.Errorf("magic link expired: %w", ErrNotFound)
	}
	return s.GetSession(ctx, meta.SessionID)
}

// AbandonSession sets status=abandoned. Data is retained, not deleted.
func (s *Store) AbandonSession(ctx context.Context, id string) error {
	return s.updateStatus(ctx, id, StatusAbandoned)
}

// MarkSubmitted sets status=submitted after a completed handoff.
func (s *Store) MarkSubmitted(ctx context.Context, id string) error {
	return s.updateStatus(ctx, id, StatusSubmitted)
}

func (s *Store) updateStatus(ctx context.Context, id, status string) error {
	now := s.nowFunc().UTC().Format(time.RFC3339)
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: schema.SessionPK(id)},
			"SK": &types.AttributeValueMemberS{Value: schema.SKMetadata},
		},
		UpdateExpression:         awsString("SET #st = :st, lastAccessedAt = :la"),
		ExpressionAttributeNames: map[string]string{"#st": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":st": &types.AttributeValueMemberS{Value: status},
			":la": &types.AttributeValueMemberS{Value: now},
		},
		ConditionExpression: awsString("attribute_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return wrapStorageErr("update session status", err)
	}
	return nil
}

// PreserveErrorState is best-effort forensic capture on top of an already
// failing operation: it writes an immutable ERROR# row with the failure
// and in-flight user input, then saves the supplied state snapshot if
// any. Its own failures are logged and swallowed, never propagated.
func (s *Store) PreserveErrorState(ctx context.Context, id string, cause error, userInput string, state *Session) {
	now := s.nowFunc().UTC()
	rec := errorRecord{
		PK:           schema.SessionPK(id),
		SK:           schema.ErrorSK(now),
		SessionID:    id,
		ErrorMessage: cause.Error(),
		Stack:        string(debug.Stack()),
		UserInput:    userInput,
		Timestamp:    now.Format(schema.SortTimeFormat),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		log.Printf("preserve error state: marshal: %v", err)
		return
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		log.Printf("preserve error state: put error row for session %s: %v", id, err)
	}

	if state != nil {
		if err := s.SaveSessionState(ctx, id, state); err != nil {
			log.Printf("preserve error state: save snapshot for session %s: %v", id, err)
		}
	}
}

// DeleteSessionData removes every row in the session partition. Used
// only for explicit data-deletion requests; the TTL sweep handles normal
// expiry.
func (s *Store) DeleteSessionData(ctx context.Context, id string) error {
	var keys []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:              &s.tableName,
			KeyConditionExpression: awsString("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: schema.SessionPK(id)},
			},
			ProjectionExpression: awsString("PK, SK"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return wrapStorageErr("query session rows", err)
		}
		keys = append(keys, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	// BatchWriteItem caps at 25 requests per call.
	for start := 0; start < len(keys); start += 25 {
		end := min(start+25, len(keys))
		requests := make([]types.WriteRequest, 0, end-start)
		for _, key := range keys[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: key},
			})
		}
		if err := s.batchDelete(ctx, requests); err != nil {
			return err
		}
	}
	return nil
}

// maxBatchDeleteAttempts bounds the retry loop for unprocessed deletes.
const maxBatchDeleteAttempts = 5

// batchDelete issues one delete chunk and re-drives whatever DynamoDB
// hands back in UnprocessedItems; a throttled table returns those on a
// successful response, so ignoring them would report a partial deletion
// as complete.
func (s *Store) batchDelete(ctx context.Context, requests []types.WriteRequest) error {
	for attempt := 0; attempt < maxBatchDeleteAttempts; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dyn.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.tableName: requests},
		})
		if err != nil {
			return wrapStorageErr("delete session rows", err)
		}
		remaining := out.UnprocessedItems[s.tableName]
		if len(remaining) == 0 {
			return nil
		}
		requests = remaining
	}
	return fmt.Errorf("delete session rows: %d unprocessed after %d attempts: %w",
		len(requests), maxBatchDeleteAttempts, ErrStorageUnavailable)
}

// Helpers
func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
func awsInt32(n int32) *int32    { return &n }
