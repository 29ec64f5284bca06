package domain

import "time"

// JobKind identifies one of the three generation jobs of a run.
type JobKind string

const (
	JobModel     JobKind = "model"
	JobComposite JobKind = "composite"
	JobStory     JobKind = "story"
)

// AllJobs lists the jobs launched by every orchestration run.
var AllJobs = []JobKind{JobModel, JobComposite, JobStory}

// JobStatus enumerates the per-job lifecycle states.
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusActive   JobStatus = "active"
	JobStatusComplete JobStatus = "complete"
	JobStatusError    JobStatus = "error"
)

// Terminal reports whether the status is complete or error.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusError
}

// AggregateState summarizes a run across its three jobs.
type AggregateState string

const (
	StateIdle    AggregateState = "idle"
	StateRunning AggregateState = "running"
	StateReady   AggregateState = "ready"
	StatePartial AggregateState = "partial"
	StateFailed  AggregateState = "failed"
)

// Results holds the typed payload of each job that completed.
type Results struct {
	Model     *ModelResult     `json:"model,omitempty"`
	Composite *CompositeResult `json:"composite,omitempty"`
	Story     *StoryResult     `json:"story,omitempty"`
}

// Has reports whether the given job contributed a result.
func (r Results) Has(kind JobKind) bool {
	switch kind {
	case JobModel:
		return r.Model != nil
	case JobComposite:
		return r.Composite != nil
	case JobStory:
		return r.Story != nil
	}
	return false
}

// Empty reports whether no job has produced a result.
func (r Results) Empty() bool {
	return r.Model == nil && r.Composite == nil && r.Story == nil
}

// GenerationSession is one attempt to produce a creation.
type GenerationSession struct {
	CharacterID string                `json:"characterId"`
	PromptText  string                `json:"promptText"`
	Statuses    map[JobKind]JobStatus `json:"statuses"`
	Errors      map[JobKind]string    `json:"errors,omitempty"`
	Results     Results               `json:"results"`
	FirstError  string                `json:"firstError,omitempty"`
	StartedAt   *time.Time            `json:"startedAt,omitempty"`
	CompletedAt *time.Time            `json:"completedAt,omitempty"`
	Timestamp   int64                 `json:"timestamp"`
}

// NewGenerationSession returns a session with every job pending.
func NewGenerationSession(characterID, prompt string) *GenerationSession {
	s := &GenerationSession{
		CharacterID: characterID,
		PromptText:  prompt,
		Statuses:    make(map[JobKind]JobStatus, len(AllJobs)),
		Errors:      make(map[JobKind]string),
	}
	for _, kind := range AllJobs {
		s.Statuses[kind] = JobStatusPending
	}
	return s
}

// State derives the aggregate state from the per-job statuses.
func (s *GenerationSession) State() AggregateState {
	if s == nil || len(s.Statuses) == 0 {
		return StateIdle
	}
	var complete, failed, pending int
	for _, kind := range AllJobs {
		switch s.Statuses[kind] {
		case JobStatusComplete:
			complete++
		case JobStatusError:
			failed++
		case JobStatusPending:
			pending++
		}
	}
	switch {
	case complete == len(AllJobs):
		return StateReady
	case complete+failed < len(AllJobs):
		if pending == len(AllJobs) {
			return StateIdle
		}
		return StateRunning
	case complete == 0:
		return StateFailed
	default:
		return StatePartial
	}
}

// Clone returns a deep copy safe to hand to readers.
func (s *GenerationSession) Clone() *GenerationSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Statuses = make(map[JobKind]JobStatus, len(s.Statuses))
	for k, v := range s.Statuses {
		out.Statuses[k] = v
	}
	out.Errors = make(map[JobKind]string, len(s.Errors))
	for k, v := range s.Errors {
		out.Errors[k] = v
	}
	return &out
}
