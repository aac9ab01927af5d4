// Package schema encodes every persisted entity into the single-table
// key space: one primary (PK, SK) pair plus at most one GSI1 (GSI1PK,
// GSI1SK) pair per item. All access patterns resolve to a single
// partition lookup or a single index lookup; nothing ever scans.
package schema

import (
	"fmt"
	"strings"
	"time"
)

const (
	// SKMetadata is the sort key of session and submission metadata rows.
	SKMetadata = "METADATA"

	// MessageSKPrefix groups all message rows inside a session partition.
	MessageSKPrefix = "MESSAGE#"

	// SpecSKPrefix groups all specification version rows.
	SpecSKPrefix = "SPEC#"

	// ErrorSKPrefix groups best-effort error-log rows.
	ErrorSKPrefix = "ERROR#"

	// GSI1Name is the single secondary index used for magic-link and
	// reference-number lookups.
	GSI1Name = "GSI1"
)

// SortTimeFormat is the fixed-width UTC timestamp embedded in message and
// error sort keys. Fixed millisecond precision keeps lexicographic key
// order identical to timestamp order; variable-length fractions (RFC3339Nano)
// would not.
const SortTimeFormat = "2006-01-02T15:04:05.000Z"

// SessionPK returns the partition key for everything owned by a session.
func SessionPK(sessionID string) string {
	mustHave("session id", sessionID)
	return "SESSION#" + sessionID
}

// MessageSK returns the sort key for a message row. The key embeds the
// message's own timestamp and id, so a partition range query over
// MESSAGE# returns messages in timestamp order (ties broken by id), and
// a retried write of the same message lands on the same key.
func MessageSK(ts time.Time, messageID string) string {
	mustHave("message id", messageID)
	return MessageSKPrefix + ts.UTC().Format(SortTimeFormat) + "#" + messageID
}

// SpecSK returns the sort key for a specification version row. The
// version is zero-padded to ten digits so lexicographic ordering equals
// numeric ordering; "latest" is the last key under the SPEC# prefix.
func SpecSK(version int) string {
	if version < 0 {
		panic(fmt.Sprintf("schema: negative specification version %d", version))
	}
	return fmt.Sprintf("%s%010d", SpecSKPrefix, version)
}

// ErrorSK returns the sort key for an error-log row.
func ErrorSK(ts time.Time) string {
	return ErrorSKPrefix + ts.UTC().Format(SortTimeFormat)
}

// SubmissionPK returns the partition key for a submission's metadata row.
func SubmissionPK(submissionID string) string {
	mustHave("submission id", submissionID)
	return "SUBMISSION#" + submissionID
}

// MagicLinkGSI1PK returns the GSI1 partition key attached to a session
// metadata row while a magic-link token is live.
func MagicLinkGSI1PK(token string) string {
	mustHave("magic link token", token)
	return "MAGIC_LINK#" + token
}

// ReferenceGSI1PK returns the GSI1 partition key for looking up a
// submission by its human-shareable reference number.
func ReferenceGSI1PK(referenceNumber string) string {
	mustHave("reference number", referenceNumber)
	return "REFERENCE#" + referenceNumber
}

// SessionIDFromPK recovers the session id from a SESSION# partition key.
func SessionIDFromPK(pk string) (string, bool) {
	id, ok := strings.CutPrefix(pk, "SESSION#")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// mustHave panics on a missing required identifier. Encoding a record
// without its identity is a programming error, not a recoverable
// condition.
func mustHave(what, v string) {
	if strings.TrimSpace(v) == "" {
		panic("schema: missing " + what)
	}
}
