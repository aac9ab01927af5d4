// Package session is the only component callers interact with directly:
// session lifecycle, full-session reconstruction, diff-based persistence,
// magic-link issuance and redemption, and best-effort error capture, all
// against the single-table schema.
package session

import (
	"time"

	"github.com/flowency-live/opsstack-builder-sub001/internal/spec"
)

// Session statuses.
const (
	StatusActive    = "active"
	StatusSubmitted = "submitted"
	StatusAbandoned = "abandoned"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// TTLWindow is the expiry horizon stamped on every session row.
const TTLWindow = 30 * 24 * time.Hour

// Message is a single conversation turn. Immutable once written;
// ordering is by timestamp (tie-broken by id), not insertion order,
// because persistence can race.
type Message struct {
	ID        string            `json:"messageId"`
	SessionID string            `json:"sessionId"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Session is the fully reconstructed state handed to callers.
type Session struct {
	ID                  string             `json:"sessionId"`
	CreatedAt           time.Time          `json:"createdAt"`
	LastAccessedAt      time.Time          `json:"lastAccessedAt"`
	Status              string             `json:"status"`
	MagicLinkToken      string             `json:"magicLinkToken,omitempty"`
	TTL                 int64              `json:"ttl"`
	ConversationHistory []Message          `json:"conversationHistory"`
	Specification       spec.Specification `json:"specification"`
	AskedTopics         []string           `json:"askedTopics,omitempty"`
}

// metadataRecord is the persisted session metadata row. Attribute names
// are the contract external tooling queries against.
type metadataRecord struct {
	PK             string   `dynamodbav:"PK"`
	SK             string   `dynamodbav:"SK"`
	SessionID      string   `dynamodbav:"sessionId"`
	CreatedAt      string   `dynamodbav:"createdAt"`
	LastAccessedAt string   `dynamodbav:"lastAccessedAt"`
	Status         string   `dynamodbav:"status"`
	TTL            int64    `dynamodbav:"ttl"`
	MagicLinkToken string   `dynamodbav:"magicLinkToken,omitempty"`
	AskedTopics    []string `dynamodbav:"askedTopics,omitempty"`
	GSI1PK         string   `dynamodbav:"GSI1PK,omitempty"`
	GSI1SK         string   `dynamodbav:"GSI1SK,omitempty"`
}

// messageRecord is the persisted message row.
type messageRecord struct {
	PK        string            `dynamodbav:"PK"`
	SK        string            `dynamodbav:"SK"`
	SessionID string            `dynamodbav:"sessionId"`
	MessageID string            `dynamodbav:"messageId"`
	Role      string            `dynamodbav:"role"`
	Content   string            `dynamodbav:"content"`
	Timestamp string            `dynamodbav:"timestamp"`
	Metadata  map[string]string `dynamodbav:"metadata,omitempty"`
}

// errorRecord is the immutable forensic row written by PreserveErrorState.
type errorRecord struct {
	PK           string `dynamodbav:"PK"`
	SK           string `dynamodbav:"SK"`
	SessionID    string `dynamodbav:"sessionId"`
	ErrorMessage string `dynamodbav:"errorMessage"`
	Stack        string `dynamodbav:"stack,omitempty"`
	UserInput    string `dynamodbav:"userInput,omitempty"`
	Timestamp    string `dynamodbav:"timestamp"`
}
