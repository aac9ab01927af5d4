package session

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/flowency-live/opsstack-builder-sub001/internal/schema"
	"github.com/flowency-live/opsstack-builder-sub001/internal/spec"
)

func newTestStore() (*Store, *memoryTable) {
	mock := newMemoryTable()
	return NewStore(mock, "builder-sessions"), mock
}

func TestCreateSession_ThenGet_EmptySession(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	created, err := s.CreateSession(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, StatusActive, created.Status)

	got, err := s.GetSession(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.Empty(t, got.ConversationHistory)
	require.Equal(t, 0, got.Specification.Version)
	require.Equal(t, 0, got.Specification.Progress.OverallCompleteness)
	require.Greater(t, got.TTL, time.Now().Unix())
}

func TestGetSession_NotFound(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.GetSession(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateSession_UniqueIDs(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 128; i++ {
		sess, err := s.CreateSession(ctx)
		require.NoError(t, err)
		require.False(t, seen[sess.ID], "duplicate session id %s", sess.ID)
		seen[sess.ID] = true
	}
}

func TestSaveSessionState_IdempotentMessageAppend(t *testing.T) {
	s, mock := newTestStore()
	ctx := context.Background()

	created, err := s.CreateSession(ctx)
	require.NoError(t, err)

	now := time.Now().UTC()
	state := &Session{
		ID:     created.ID,
		Status: StatusActive,
		ConversationHistory: []Message{
			{ID: "m1", Role: RoleUser, Content: "I need a booking site", Timestamp: now},
			{ID: "m2", Role: RoleAssistant, Content: "Tell me more", Timestamp: now.Add(time.Second)},
		},
		Specification: created.Specification,
	}

	require.NoError(t, s.SaveSessionState(ctx, created.ID, state))
	require.NoError(t, s.SaveSessionState(ctx, created.ID, state))

	pk := schema.SessionPK(created.ID)
	require.Equal(t, 2, mock.countKeys(pk, schema.MessageSKPrefix))
}

func TestSaveSessionState_WritesSpecOnlyOnVersionChange(t *testing.T) {
	s, mock := newTestStore()
	ctx := context.Background()

	created, err := s.CreateSession(ctx)
	require.NoError(t, err)
	pk := schema.SessionPK(created.ID)

	state := &Session{
		ID:                  created.ID,
		Status:              StatusActive,
		ConversationHistory: []Message{},
		Specification:       created.Specification,
	}
	require.NoError(t, s.SaveSessionState(ctx, created.ID, state))
	require.Equal(t, 0, mock.countKeys(pk, schema.SpecSKPrefix))

	state.Specification.Version = 1
	state.Specification.Summary.Overview = "A booking system for a barbershop"
	require.NoError(t, s.SaveSessionState(ctx, created.ID, state))
	require.Equal(t, 1, mock.countKeys(pk, schema.SpecSKPrefix))

	// same version again: no new row
	require.NoError(t, s.SaveSessionState(ctx, created.ID, state))
	require.Equal(t, 1, mock.countKeys(pk, schema.SpecSKPrefix))

	// next version appends without touching v1
	state.Specification.Version = 2
	require.NoError(t, s.SaveSessionState(ctx, created.ID, state))
	require.Equal(t, 2, mock.countKeys(pk, schema.SpecSKPrefix))

	got, err := s.GetSession(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.Specification.Version)
}

func TestGetSession_ReordersMessagesByTimestamp(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	created, err := s.CreateSession(ctx)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	// persisted out of timestamp order, as racing writers would
	require.NoError(t, s.putMessage(ctx, created.ID, Message{ID: "late", Role: RoleAssistant, Content: "second", Timestamp: base.Add(time.Minute)}))
	require.NoError(t, s.putMessage(ctx, created.ID, Message{ID: "early", Role: RoleUser, Content: "first", Timestamp: base}))

	got, err := s.GetSession(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, got.ConversationHistory, 2)
	require.Equal(t, "first", got.ConversationHistory[0].Content)
	require.Equal(t, "second", got.ConversationHistory[1].Content)
}

func TestMagicLink_RoundTrip(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	created, err := s.CreateSession(ctx)
	require.NoError(t, err)

	token, err := s.GenerateMagicLink(ctx, created.ID)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	restored, err := s.RestoreSessionFromMagicLink(ctx, token)
	require.NoError(t, err)
	require.Equal(t, created.ID, restored.ID)
}

func TestMagicLink_Reissue_Supersedes(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	created, err := s.CreateSession(ctx)
	require.NoError(t, err)

	first, err := s.GenerateMagicLink(ctx, created.ID)
	require.NoError(t, err)
	second, err := s.GenerateMagicLink(ctx, created.ID)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	restored, err := s.RestoreSessionFromMagicLink(ctx, second)
	require.NoError(t, err)
	require.Equal(t, created.ID, restored.ID)
}

func TestMagicLink_UnknownToken(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.RestoreSessionFromMagicLink(context.Background(), "no-such-token")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMagicLink_ExpiredSession(t *testing.T) {
	s, mock := newTestStore()
	ctx := context.Background()

	created, err := s.CreateSession(ctx)
	require.NoError(t, err)
	token, err := s.GenerateMagicLink(ctx, created.ID)
	require.NoError(t, err)

	// force the ttl into the past
	mock.mu.Lock()
	key := schema.SessionPK(created.ID) + "|" + schema.SKMetadata
	mock.items[key]["ttl"] = &types.AttributeValueMemberN{Value: "1"}
	mock.mu.Unlock()

	_, err = s.RestoreSessionFromMagicLink(ctx, token)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMagicLink_MissingSession(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.GenerateMagicLink(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAbandonSession(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	created, err := s.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.AbandonSession(ctx, created.ID))

	got, err := s.GetSession(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAbandoned, got.Status)
}

func TestSaveSessionState_CarriesStatusAndAskedTopics(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	created, err := s.CreateSession(ctx)
	require.NoError(t, err)

	state := &Session{
		ID:                  created.ID,
		Status:              StatusSubmitted,
		AskedTopics:         []string{"overview", "payments"},
		ConversationHistory: []Message{},
		Specification:       created.Specification,
	}
	require.NoError(t, s.SaveSessionState(ctx, created.ID, state))

	got, err := s.GetSession(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, got.Status)
	require.Equal(t, []string{"overview", "payments"}, got.AskedTopics)
}

func TestPreserveErrorState_WritesErrorRow(t *testing.T) {
	s, mock := newTestStore()
	ctx := context.Background()

	created, err := s.CreateSession(ctx)
	require.NoError(t, err)

	s.PreserveErrorState(ctx, created.ID, errBoom, "my in-flight input", nil)
	require.Equal(t, 1, mock.countKeys(schema.SessionPK(created.ID), schema.ErrorSKPrefix))
}

func TestPreserveErrorState_SwallowsStorageFailures(t *testing.T) {
	s, mock := newTestStore()
	ctx := context.Background()

	created, err := s.CreateSession(ctx)
	require.NoError(t, err)

	mock.putErr = errBoom
	// must not panic or propagate
	s.PreserveErrorState(ctx, created.ID, errBoom, "input", &Session{
		ID:                  created.ID,
		ConversationHistory: []Message{{ID: "m1", Role: RoleUser, Content: "hi"}},
		Specification:       created.Specification,
	})
}

func TestDeleteSessionData_RemovesAllRows(t *testing.T) {
	s, mock := newTestStore()
	ctx := context.Background()

	created, err := s.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.putMessage(ctx, created.ID, Message{ID: "m1", Role: RoleUser, Content: "hi", Timestamp: time.Now()}))

	require.NoError(t, s.DeleteSessionData(ctx, created.ID))
	require.Equal(t, 0, mock.countKeys(schema.SessionPK(created.ID), ""))

	_, err = s.GetSession(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSessionData_RetriesUnprocessedDeletes(t *testing.T) {
	s, mock := newTestStore()
	ctx := context.Background()

	created, err := s.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.putMessage(ctx, created.ID, Message{ID: "m1", Role: RoleUser, Content: "hi", Timestamp: time.Now()}))

	// two throttled responses, then the deletes land
	mock.unprocessedRounds = 2
	require.NoError(t, s.DeleteSessionData(ctx, created.ID))
	require.Equal(t, 0, mock.countKeys(schema.SessionPK(created.ID), ""))
}

func TestDeleteSessionData_SurfacesPersistentThrottling(t *testing.T) {
	s, mock := newTestStore()
	ctx := context.Background()

	created, err := s.CreateSession(ctx)
	require.NoError(t, err)

	// never drains: every attempt echoes the chunk back unprocessed
	mock.unprocessedRounds = 100
	err = s.DeleteSessionData(ctx, created.ID)
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.Equal(t, 1, mock.countKeys(schema.SessionPK(created.ID), ""))
}

func TestTouch_DeletedSessionNotResurrected(t *testing.T) {
	s, mock := newTestStore()
	ctx := context.Background()

	created, err := s.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.DeleteSessionData(ctx, created.ID))

	// the lastAccessedAt bump after a delete must not upsert a phantom row
	err = s.touch(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 0, mock.countKeys(schema.SessionPK(created.ID), ""))
}

func TestSaveSessionState_MissingSession(t *testing.T) {
	s, _ := newTestStore()
	err := s.SaveSessionState(context.Background(), "missing", &Session{Specification: spec.Placeholder("missing")})
	require.ErrorIs(t, err, ErrNotFound)
}
