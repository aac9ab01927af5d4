package submission

import "time"

// Submission statuses. Created as pending; transitions are the only
// mutation a submission ever sees.
const (
	StatusPending  = "pending"
	StatusReviewed = "reviewed"
	StatusQuoted   = "quoted"
)

// ContactInfo is the contact block captured at handoff.
type ContactInfo struct {
	Name     string            `json:"name"`
	Email    string            `json:"email"`
	Phone    string            `json:"phone,omitempty"`
	Business map[string]string `json:"business,omitempty"`
}

// Submission records one completed handoff of a specification version.
type Submission struct {
	ID                   string      `json:"submissionId"`
	SessionID            string      `json:"sessionId"`
	Contact              ContactInfo `json:"contactInfo"`
	SpecificationVersion int         `json:"specificationVersion"`
	SubmittedAt          time.Time   `json:"submittedAt"`
	Status               string      `json:"status"`
	ReferenceNumber      string      `json:"referenceNumber"`
}

// record is the persisted submission metadata row. Submissions carry no
// ttl; they are retained indefinitely.
type record struct {
	PK                   string `dynamodbav:"PK"`
	SK                   string `dynamodbav:"SK"`
	SubmissionID         string `dynamodbav:"submissionId"`
	SessionID            string `dynamodbav:"sessionId"`
	ContactInfo          string `dynamodbav:"contactInfo"`
	SpecificationVersion int    `dynamodbav:"specificationVersion"`
	SubmittedAt          string `dynamodbav:"submittedAt"`
	Status               string `dynamodbav:"status"`
	ReferenceNumber      string `dynamodbav:"referenceNumber"`
	GSI1PK               string `dynamodbav:"GSI1PK"`
	GSI1SK               string `dynamodbav:"GSI1SK"`
}
