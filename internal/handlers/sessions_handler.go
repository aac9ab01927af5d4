// Package handlers exposes the session persistence core over HTTP. The
// conversation/LLM collaborator is injected as a Responder; this layer
// only needs its output shape, not how it is produced.
package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/flowency-live/opsstack-builder-sub001/internal/aws"
	"github.com/flowency-live/opsstack-builder-sub001/internal/progress"
	"github.com/flowency-live/opsstack-builder-sub001/internal/session"
	"github.com/flowency-live/opsstack-builder-sub001/internal/spec"
	"github.com/flowency-live/opsstack-builder-sub001/internal/submission"
	"github.com/flowency-live/opsstack-builder-sub001/internal/validation"
)

// Reply is what the conversation collaborator produces for one user turn.
// Specification, when non-nil, is the next specification content; the
// core assigns its version number and progress snapshot.
type Reply struct {
	AssistantMessage string
	Specification    *spec.Specification
	AskedTopics      []string
}

// Responder produces an assistant reply (and optional specification
// delta) from the current session state and the new user message.
type Responder interface {
	Respond(ctx context.Context, sess *session.Session, userMessage string) (Reply, error)
}

// HandlerConfig groups dependencies for the session routes.
type HandlerConfig struct {
	DynamoDBClient aws.DynamoDBAPI
	SQSClient      aws.SQSAPI
	TableName      string
	QueueURL       string
	Responder      Responder
	Metrics        *aws.Metrics
}

// RegisterSessionRoutes registers the session lifecycle API.
func RegisterSessionRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	sessions := session.NewStore(cfg.DynamoDBClient, cfg.TableName)
	submissions := submission.NewStore(cfg.DynamoDBClient, cfg.TableName)
	publisher := aws.NewPublisher(cfg.SQSClient, cfg.QueueURL)

	r.POST("/sessions", func(c *gin.Context) {
		sess, err := sessions.CreateSession(c.Request.Context())
		if err != nil {
			writeStoreError(c, err)
			return
		}
		_ = cfg.Metrics.Count(c.Request.Context(), "SessionCreated", 1, nil)
		c.JSON(http.StatusCreated, sess)
	})

	r.GET("/sessions/:id", func(c *gin.Context) {
		sess, err := sessions.GetSession(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	})

	r.POST("/sessions/:id/messages", func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")

		var req validation.PostMessageRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		sess, err := sessions.GetSession(ctx, id)
		if err != nil {
			writeStoreError(c, err)
			return
		}

		userMsg := session.Message{
			ID:        req.MessageID,
			SessionID: id,
			Role:      session.RoleUser,
			Content:   req.Content,
			Metadata:  req.Metadata,
		}
		if userMsg.ID == "" {
			userMsg.ID = uuid.NewString()
		}
		sess.ConversationHistory = append(sess.ConversationHistory, userMsg)

		reply, err := cfg.Responder.Respond(ctx, sess, req.Content)
		if err != nil {
			sessions.PreserveErrorState(ctx, id, err, req.Content, sess)
			c.JSON(http.StatusBadGateway, gin.H{"error": "responder_failed"})
			return
		}

		sess.ConversationHistory = append(sess.ConversationHistory, session.Message{
			ID:        uuid.NewString(),
			SessionID: id,
			Role:      session.RoleAssistant,
			Content:   reply.AssistantMessage,
		})
		if reply.Specification != nil {
			next := *reply.Specification
			next.SessionID = id
			next.Version = sess.Specification.Version + 1
			next.Progress = progress.Score(next)
			sess.Specification = next
		}
		sess.AskedTopics = mergeAskedTopics(sess.AskedTopics, reply.AskedTopics)

		// State must be durably written before the response is reported
		// as complete; a failed append is surfaced, never dropped.
		if err := sessions.SaveSessionState(ctx, id, sess); err != nil {
			if errors.Is(err, spec.ErrVersionConflict) {
				c.JSON(http.StatusConflict, gin.H{"error": "specification_version_conflict"})
				return
			}
			sessions.PreserveErrorState(ctx, id, err, req.Content, nil)
			writeStoreError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"sessionId":        id,
			"assistantMessage": reply.AssistantMessage,
			"specification":    sess.Specification,
			"progress":         sess.Specification.Progress,
		})
	})

	r.POST("/sessions/:id/magic-link", func(c *gin.Context) {
		token, err := sessions.GenerateMagicLink(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeStoreError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"token": token})
	})

	r.GET("/sessions/magic/:token", func(c *gin.Context) {
		sess, err := sessions.RestoreSessionFromMagicLink(c.Request.Context(), c.Param("token"))
		if err != nil {
			writeStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	})

	r.POST("/sessions/:id/abandon", func(c *gin.Context) {
		if err := sessions.AbandonSession(c.Request.Context(), c.Param("id")); err != nil {
			writeStoreError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	r.POST("/sessions/:id/submissions", func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")

		var req validation.SubmitRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		sess, err := sessions.GetSession(ctx, id)
		if err != nil {
			writeStoreError(c, err)
			return
		}

		contact := submission.ContactInfo{
			Name:     req.Contact.Name,
			Email:    req.Contact.Email,
			Phone:    req.Contact.Phone,
			Business: req.Contact.Business,
		}
		sub, err := submissions.Create(ctx, id, contact, sess.Specification.Version)
		if err != nil {
			writeStoreError(c, err)
			return
		}

		msg := submission.NotificationMessage{
			SubmissionID:    sub.ID,
			SessionID:       id,
			ReferenceNumber: sub.ReferenceNumber,
			CorrelationID:   c.GetHeader("X-Request-Id"),
		}
		// The submission row is already durable; a failed notification is
		// recovered by the intake reconciliation, not by the caller.
		if err := publisher.SendSubmissionMessage(ctx, msg.Body(), msg.Attributes()); err != nil {
			log.Printf("submission %s: notify failed: %v", sub.ID, err)
		}

		_ = cfg.Metrics.Count(ctx, "SubmissionCreated", 1, nil)
		c.Header("Location", "/submissions/"+sub.ID)
		c.JSON(http.StatusCreated, gin.H{
			"submissionId":    sub.ID,
			"referenceNumber": sub.ReferenceNumber,
			"status":          sub.Status,
		})
	})

	r.GET("/submissions/reference/:ref", func(c *gin.Context) {
		sub, err := submissions.GetByReference(c.Request.Context(), c.Param("ref"))
		if err != nil {
			writeStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, sub)
	})
}

func mergeAskedTopics(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range added {
		if !seen[t] {
			seen[t] = true
			existing = append(existing, t)
		}
	}
	return existing
}

// writeStoreError maps the store's error taxonomy onto HTTP statuses.
func writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, session.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "detail": err.Error()})
	}
}
