// Package spec holds the product-specification domain types and the
// append-only version store layered on the single-table schema.
package spec

import "time"

// Session statuses are defined in the session package; specification
// complexity classes live here because the scorer writes them.
const (
	ComplexitySimple  = "Simple"
	ComplexityMedium  = "Medium"
	ComplexityComplex = "Complex"
)

// Topic statuses tracked by the progress scorer.
const (
	TopicNotStarted = "not-started"
	TopicInProgress = "in-progress"
	TopicComplete   = "complete"
)

// PlainEnglishSummary is the human-readable half of a specification.
type PlainEnglishSummary struct {
	Overview     string   `json:"overview"`
	KeyFeatures  []string `json:"keyFeatures"`
	TargetUsers  string   `json:"targetUsers"`
	Integrations []string `json:"integrations"`
	Complexity   string   `json:"complexity,omitempty"`
}

// Requirement is one functional requirement in the formal document.
type Requirement struct {
	ID                 string   `json:"id"`
	UserStory          string   `json:"userStory"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	Priority           string   `json:"priority"`
}

// NonFunctionalRequirement captures a cross-cutting constraint.
type NonFunctionalRequirement struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// FormalPRD is the formal requirements document half of a specification.
type FormalPRD struct {
	Introduction  string                     `json:"introduction"`
	Glossary      map[string]string          `json:"glossary"`
	Requirements  []Requirement              `json:"requirements"`
	NonFunctional []NonFunctionalRequirement `json:"nonFunctionalRequirements"`
}

// Topic is one named area of specification coverage.
type Topic struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Required bool   `json:"required"`
}

// ProgressSnapshot is embedded alongside each specification version; it
// is never persisted on its own.
type ProgressSnapshot struct {
	Topics              []Topic `json:"topics"`
	OverallCompleteness int     `json:"overallCompleteness"`
	ProjectComplexity   string  `json:"projectComplexity"`
}

// Specification is one immutable version of the evolving product spec.
// Version 0 is the unsubmitted placeholder; real versions start at 1.
type Specification struct {
	SessionID string              `json:"sessionId"`
	Version   int                 `json:"version"`
	Summary   PlainEnglishSummary `json:"plainEnglishSummary"`
	PRD       FormalPRD           `json:"formalPRD"`
	Progress  ProgressSnapshot    `json:"progressState"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// Placeholder returns the version-0 specification substituted whenever a
// session has no persisted versions yet: empty summary, empty
// requirements, zero progress.
func Placeholder(sessionID string) Specification {
	return Specification{
		SessionID: sessionID,
		Version:   0,
		Summary:   PlainEnglishSummary{KeyFeatures: []string{}, Integrations: []string{}},
		PRD: FormalPRD{
			Glossary:      map[string]string{},
			Requirements:  []Requirement{},
			NonFunctional: []NonFunctionalRequirement{},
		},
		Progress: ProgressSnapshot{Topics: []Topic{}},
	}
}
