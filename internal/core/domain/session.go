package domain

import "time"

type SessionStatus string

const (
	SessionUploaded   SessionStatus = "uploaded"
	SessionProcessing SessionStatus = "processing"
	SessionReady      SessionStatus = "ready"
	SessionFailed     SessionStatus = "failed"
)

// Session is one compliance-check run over a single submission.
type Session struct {
	ID          string        `json:"id"`
	Filename    string        `json:"filename"`
	StoragePath string        `json:"storage_path"`
	Status      SessionStatus `json:"status"`
	KeyFacts    *KeyFacts     `json:"key_facts,omitempty"`
	Assessments []Assessment  `json:"assessments,omitempty"`
	Context     string        `json:"context,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type AssessmentStatus string

const (
	AssessmentCompliant    AssessmentStatus = "skladno"
	AssessmentNonCompliant AssessmentStatus = "neskladno"
	AssessmentNoData       AssessmentStatus = "ni podatka"
)

// Assessment is the verdict for one regulatory requirement.
type Assessment struct {
	RequirementID string           `json:"requirement_id"`
	Topic         string           `json:"topic"`
	Status        AssessmentStatus `json:"status"`
	Reasoning     string           `json:"reasoning"`
	Citations     []string         `json:"citations,omitempty"`
}

// Requirement is one entry of the static regulation catalog. Keywords
// trigger its inclusion when they appear among the submission's key facts.
type Requirement struct {
	ID       string   `json:"id" yaml:"id"`
	Topic    string   `json:"topic" yaml:"topic"`
	Text     string   `json:"text" yaml:"text"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	Sources  []string `json:"sources,omitempty" yaml:"sources"`
}
