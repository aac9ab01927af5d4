// Package progress computes per-topic completion state and an overall
// completeness percentage from specification content. Score is a pure
// function: no side effects, no stored state, cheap to recompute on
// every message exchange.
package progress

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/flowency-live/opsstack-builder-sub001/internal/spec"
)

// Project types recognized by the classifier.
const (
	TypeBooking   = "booking-system"
	TypeECommerce = "e-commerce"
	TypeCRM       = "crm"
	TypeMobileApp = "mobile-app"
	TypeAPI       = "api"
	TypeWebsite   = "website"
	TypeWebApp    = "web-application"
	TypeUnknown   = "unknown"
)

// projectTypeRule pairs a project type with the keywords that select it.
// Order is significant: the first matching rule wins.
type projectTypeRule struct {
	projectType string
	keywords    []string
}

var projectTypeRules = []projectTypeRule{
	{TypeBooking, []string{"booking", "appointment", "reservation", "time slot", "calendar"}},
	{TypeECommerce, []string{"e-commerce", "ecommerce", "online store", "shop", "cart", "checkout", "product catalog"}},
	{TypeCRM, []string{"crm", "customer relationship", "lead", "sales pipeline", "contact management"}},
	{TypeMobileApp, []string{"mobile app", "ios", "android", "native app"}},
	{TypeAPI, []string{"api", "webhook", "microservice", "integration platform"}},
	{TypeWebsite, []string{"website", "landing page", "brochure", "portfolio site"}},
	{TypeWebApp, []string{"web app", "platform", "portal", "dashboard", "saas", "application"}},
}

// topicDef is one entry in the topic tables.
type topicDef struct {
	id       string
	name     string
	required bool
}

// Three always-required core topics.
var coreTopics = []topicDef{
	{"overview", "Project Overview", true},
	{"target-users", "Target Users", true},
	{"features", "Key Features", true},
}

// Complexity-tier topic sets.
var tierTopics = map[string][]topicDef{
	spec.ComplexitySimple: {
		{"design", "Design & Branding", false},
	},
	spec.ComplexityMedium: {
		{"integrations", "Integrations", true},
		{"timeline", "Timeline", true},
		{"design", "Design & Branding", false},
	},
	spec.ComplexityComplex: {
		{"integrations", "Integrations", true},
		{"requirements", "Functional Requirements", true},
		{"non-functional", "Non-Functional Requirements", true},
		{"timeline", "Timeline", true},
		{"design", "Design & Branding", false},
		{"budget", "Budget", false},
	},
}

// Project-type-specific topic sets (zero to four topics each).
var typeTopics = map[string][]topicDef{
	TypeBooking: {
		{"calendar", "Calendar & Availability", true},
		{"payments", "Payments", true},
		{"notifications", "Notifications", false},
	},
	TypeECommerce: {
		{"products", "Product Catalog", true},
		{"payments", "Payments", true},
		{"shipping", "Shipping & Fulfilment", true},
		{"inventory", "Inventory", false},
	},
	TypeCRM: {
		{"contacts", "Contact Management", true},
		{"pipeline", "Sales Pipeline", true},
		{"reporting", "Reporting", false},
	},
	TypeMobileApp: {
		{"platforms", "Target Platforms", true},
		{"offline-support", "Offline Support", false},
		{"notifications", "Notifications", false},
	},
	TypeAPI: {
		{"endpoints", "Endpoints", true},
		{"authentication", "Authentication", true},
		{"documentation", "Documentation", false},
	},
	TypeWebsite: {
		{"content", "Content", true},
		{"design", "Design & Branding", false},
	},
	TypeWebApp: {
		{"authentication", "Authentication", false},
		{"reporting", "Reporting", false},
	},
}

// topicKeywords drives the binary complete/not-started topics: a topic is
// complete once any of its keywords appears in the specification text.
var topicKeywords = map[string][]string{
	"calendar":        {"calendar", "availability", "time slot", "schedule"},
	"payments":        {"payment", "stripe", "paypal", "checkout", "billing", "invoice"},
	"notifications":   {"notification", "reminder", "email alert", "sms"},
	"products":        {"product", "catalog", "sku", "listing"},
	"shipping":        {"shipping", "delivery", "fulfilment", "fulfillment", "courier"},
	"inventory":       {"inventory", "stock"},
	"contacts":        {"contact", "customer record", "address book"},
	"pipeline":        {"pipeline", "deal stage", "lead status", "opportunity"},
	"reporting":       {"report", "analytics", "dashboard", "export"},
	"platforms":       {"ios", "android", "tablet", "cross-platform"},
	"offline-support": {"offline", "sync", "local storage"},
	"endpoints":       {"endpoint", "rest", "graphql", "route"},
	"authentication":  {"auth", "login", "sign in", "sso", "oauth"},
	"documentation":   {"documentation", "openapi", "swagger", "api docs"},
	"content":         {"content", "copy", "blog", "cms"},
	"design":          {"design", "brand", "logo", "colour", "color scheme", "style"},
	"timeline":        {"timeline", "deadline", "launch date", "go live", "milestone"},
	"budget":          {"budget", "cost", "price range", "investment"},
}

// Complexity score weights and tier boundaries.
const (
	weightRequirement   = 1.0
	weightNonFunctional = 2.0
	weightFeature       = 0.5
	weightIntegration   = 1.5

	simpleMax = 5.0
	mediumMax = 15.0
)

// Overview/target-users/count thresholds for derived topic status.
const (
	overviewCompleteLen    = 20
	targetUsersCompleteLen = 10
	featuresCompleteCount  = 3
	requirementsComplete   = 3
)

// Score classifies the project, sizes its complexity, builds the merged
// topic list, derives each topic's status from the specification content,
// and computes overall completeness across the required topics.
func Score(sp spec.Specification) spec.ProgressSnapshot {
	projectType := ClassifyProjectType(sp)
	complexity := ClassifyComplexity(sp)

	defs := mergeTopics(coreTopics, tierTopics[complexity], typeTopics[projectType])
	text := searchText(sp)

	topics := make([]spec.Topic, 0, len(defs))
	var required, complete, inProgress int
	for _, d := range defs {
		status := topicStatus(d.id, sp, text)
		topics = append(topics, spec.Topic{ID: d.id, Name: d.name, Status: status, Required: d.required})
		if !d.required {
			continue
		}
		required++
		switch status {
		case spec.TopicComplete:
			complete++
		case spec.TopicInProgress:
			inProgress++
		}
	}

	completeness := 100
	if required > 0 {
		completeness = int(math.Round(100 * (float64(complete) + 0.5*float64(inProgress)) / float64(required)))
	}

	return spec.ProgressSnapshot{
		Topics:              topics,
		OverallCompleteness: completeness,
		ProjectComplexity:   complexity,
	}
}

// ClassifyProjectType keyword-matches the overview and feature text.
// Rules are checked in declaration order; the first match wins.
func ClassifyProjectType(sp spec.Specification) string {
	text := strings.ToLower(sp.Summary.Overview + " " + strings.Join(sp.Summary.KeyFeatures, " "))
	for _, rule := range projectTypeRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.projectType
			}
		}
	}
	return TypeUnknown
}

// ClassifyComplexity maps the weighted content score to a tier.
func ClassifyComplexity(sp spec.Specification) string {
	score := float64(len(sp.PRD.Requirements))*weightRequirement +
		float64(len(sp.PRD.NonFunctional))*weightNonFunctional +
		float64(len(sp.Summary.KeyFeatures))*weightFeature +
		float64(len(sp.Summary.Integrations))*weightIntegration

	switch {
	case score <= simpleMax:
		return spec.ComplexitySimple
	case score <= mediumMax:
		return spec.ComplexityMedium
	default:
		return spec.ComplexityComplex
	}
}

// mergeTopics concatenates topic sets, keeping only the first occurrence
// of each id.
func mergeTopics(sets ...[]topicDef) []topicDef {
	seen := map[string]bool{}
	var out []topicDef
	for _, set := range sets {
		for _, d := range set {
			if seen[d.id] {
				continue
			}
			seen[d.id] = true
			out = append(out, d)
		}
	}
	return out
}

// searchText is the combined lowercase haystack the keyword topics match
// against.
func searchText(sp spec.Specification) string {
	parts := []string{sp.Summary.Overview}
	parts = append(parts, sp.Summary.KeyFeatures...)
	parts = append(parts, sp.Summary.Integrations...)
	for _, r := range sp.PRD.Requirements {
		parts = append(parts, r.UserStory)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// topicStatus derives one topic's status from the specification content.
func topicStatus(id string, sp spec.Specification, text string) string {
	switch id {
	case "overview":
		return lengthStatus(sp.Summary.Overview, overviewCompleteLen)
	case "target-users":
		return lengthStatus(sp.Summary.TargetUsers, targetUsersCompleteLen)
	case "features":
		return countStatus(len(sp.Summary.KeyFeatures), featuresCompleteCount)
	case "integrations":
		if len(sp.Summary.Integrations) >= 1 {
			return spec.TopicComplete
		}
		return spec.TopicNotStarted
	case "requirements":
		return countStatus(len(sp.PRD.Requirements), requirementsComplete)
	case "non-functional":
		if len(sp.PRD.NonFunctional) >= 1 {
			return spec.TopicComplete
		}
		return spec.TopicNotStarted
	}

	// Keyword-driven topics are binary complete/not-started.
	for _, kw := range topicKeywords[id] {
		if strings.Contains(text, kw) {
			return spec.TopicComplete
		}
	}
	return spec.TopicNotStarted
}

// lengthStatus measures in runes so multibyte text does not cross the
// threshold early.
func lengthStatus(s string, completeLen int) string {
	trimmed := strings.TrimSpace(s)
	switch {
	case utf8.RuneCountInString(trimmed) > completeLen:
		return spec.TopicComplete
	case len(trimmed) > 0:
		return spec.TopicInProgress
	default:
		return spec.TopicNotStarted
	}
}

func countStatus(n, completeAt int) string {
	switch {
	case n >= completeAt:
		return spec.TopicComplete
	case n > 0:
		return spec.TopicInProgress
	default:
		return spec.TopicNotStarted
	}
}
