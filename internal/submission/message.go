package submission

import "encoding/json"

// NotificationMessage is the payload sent from API -> SQS -> worker when
// a submission is created.
type NotificationMessage struct {
	SubmissionID    string `json:"submission_id"`
	SessionID       string `json:"session_id"`
	ReferenceNumber string `json:"reference_number"`
	CorrelationID   string `json:"correlation_id,omitempty"`
}

// Body returns the JSON message body.
func (m NotificationMessage) Body() string {
	b, _ := json.Marshal(m)
	return string(b)
}

// Attributes returns the string message attributes sent alongside the body.
func (m NotificationMessage) Attributes() map[string]string {
	attrs := map[string]string{
		"submission_id":    m.SubmissionID,
		"reference_number": m.ReferenceNumber,
	}
	if m.CorrelationID != "" {
		attrs["correlation_id"] = m.CorrelationID
	}
	return attrs
}
