// Package jobs holds the value types exchanged between the interactive
// surface and the background coordinator.
package jobs

import (
	"fmt"
	"time"

	"zira/internal/core/ports"
)

type Kind string

const (
	KindLint            Kind = "lint"
	KindParseMixed      Kind = "parse_mixed"
	KindParseJS         Kind = "parse_js"
	KindParseCSS        Kind = "parse_css"
	KindStyleCheck      Kind = "style_check"
	KindProjectScan     Kind = "project_scan"
	KindSearch          Kind = "search"
	KindVcsCommand      Kind = "vcs_command"
	KindExternalCommand Kind = "external_command"
	KindQuickFind       Kind = "quick_find"
	KindCustom          Kind = "custom"
)

// Kinds lists every job kind in declaration order.
var Kinds = []Kind{
	KindLint,
	KindParseMixed,
	KindParseJS,
	KindParseCSS,
	KindStyleCheck,
	KindProjectScan,
	KindSearch,
	KindVcsCommand,
	KindExternalCommand,
	KindQuickFind,
	KindCustom,
}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// UIBound reports whether results of this kind mutate a document view and
// must be ignored when stale.
func (k Kind) UIBound() bool {
	switch k {
	case KindLint, KindParseMixed, KindParseJS, KindParseCSS, KindStyleCheck:
		return true
	}
	return false
}

// ProjectSlot marks owners that belong to a project rather than a tab.
const ProjectSlot = -1

// Owner correlates a job to the document or project that requested it. A
// reused slot gets a new Generation, so tokens from a closed tab never
// match its successor.
type Owner struct {
	Slot       int    `json:"slot"`
	Generation uint64 `json:"generation"`
}

// NoOwner marks headless jobs, whose results are never stale.
var NoOwner = Owner{}

func (o Owner) IsZero() bool { return o.Generation == 0 }

func (o Owner) IsProject() bool { return o.Slot == ProjectSlot && o.Generation != 0 }

func (o Owner) String() string {
	if o.IsProject() {
		return fmt.Sprintf("project#%d", o.Generation)
	}
	return fmt.Sprintf("tab%d#%d", o.Slot, o.Generation)
}

// Job is one unit of background work. Seq and ID are assigned on submit.
type Job struct {
	ID          string
	Kind        Kind
	Owner       Owner
	Payload     any
	Seq         uint64
	Replace     bool
	SubmittedAt time.Time
}

// Replacer lets a payload decide replace-latest for its own job.
type Replacer interface {
	ReplaceLatest() bool
}

// ReplaceLatest resolves whether a newer job of the same kind and owner
// supersedes this one while it waits.
func ReplaceLatest(kind Kind, payload any, explicit bool) bool {
	if explicit {
		return true
	}
	if r, ok := payload.(Replacer); ok {
		return r.ReplaceLatest()
	}
	switch kind {
	case KindLint, KindParseMixed, KindParseJS, KindParseCSS, KindStyleCheck, KindSearch, KindQuickFind:
		return true
	}
	return false
}

// SameTarget reports whether two jobs compete for the same (kind, owner).
func SameTarget(a, b Job) bool {
	return a.Kind == b.Kind && a.Owner == b.Owner
}

type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeErrors    Outcome = "errors"
	OutcomeCancelled Outcome = "cancelled"
)

// JobResult is emitted exactly once per claimed job. Diagnostics carries
// analysis problems on success; Errors is set only with OutcomeErrors.
type JobResult struct {
	JobID       string             `json:"job_id"`
	Owner       Owner              `json:"owner"`
	Kind        Kind               `json:"kind"`
	Outcome     Outcome            `json:"outcome"`
	Payload     any                `json:"payload,omitempty"`
	Diagnostics []ports.Diagnostic `json:"diagnostics,omitempty"`
	Errors      []ports.Diagnostic `json:"errors,omitempty"`
	Stale       bool               `json:"stale"`
	Started     time.Time          `json:"started"`
	Finished    time.Time          `json:"finished"`
	Timestamp   time.Time          `json:"timestamp"`
}

func (r JobResult) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Progress is a periodic update from a running job. Item carries streamed
// partial results such as search matches.
type Progress struct {
	JobID   string `json:"job_id"`
	Owner   Owner  `json:"owner"`
	Kind    Kind   `json:"kind"`
	Percent int    `json:"percent"`
	Status  string `json:"status,omitempty"`
	Item    any    `json:"item,omitempty"`
}

// Done reports whether the consumer may retire its progress indicator.
func (p Progress) Done() bool { return p.Percent >= 100 }

// Reporter is handed to running jobs for progress and streamed items.
type Reporter interface {
	Progress(percent int, status string)
	Item(v any)
}

// Output is what an executor hands back on success.
type Output struct {
	Payload     any
	Diagnostics []ports.Diagnostic
}
