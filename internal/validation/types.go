package validation

// PostMessageRequest is the payload for POST /sessions/:id/messages.
type PostMessageRequest struct {
	MessageID string            `json:"messageId,omitempty"`           // optional client-chosen id for retry-safe appends
	Content   string            `json:"content" validate:"required"`   // user message text
	Metadata  map[string]string `json:"metadata,omitempty"`            // optional free-form metadata
}

// ContactBlock carries the handoff contact details.
type ContactBlock struct {
	Name     string            `json:"name" validate:"required"`
	Email    string            `json:"email" validate:"required,email"`
	Phone    string            `json:"phone,omitempty"`
	Business map[string]string `json:"business,omitempty"`
}

// SubmitRequest is the payload for POST /sessions/:id/submissions.
type SubmitRequest struct {
	Contact ContactBlock `json:"contactInfo" validate:"required"`
}
