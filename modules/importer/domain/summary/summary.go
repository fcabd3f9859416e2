// Package summary accumulates the audit trail of an import batch.
package summary

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"
)

// Entity keys used in the inserted/updated/ignored maps.
const (
	Schools         = "schools"
	Shifts          = "shifts"
	Majors          = "majors"
	StudyPlans      = "study_plans"
	MajorStudyPlans = "major_study_plans"
	Subjects        = "subjects"
	Sections        = "sections"
	Teachers        = "teachers"
	TeacherSections = "teacher_sections"
	Exams           = "exams"
	Students        = "students"
	StudentSections = "student_sections"
	Rooms           = "rooms"
)

type Outcome int

const (
	Inserted Outcome = iota + 1
	Updated
	Ignored
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Ignored:
		return "ignored"
	default:
		return "unknown"
	}
}

type Counts map[string]int

func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

type Summary struct {
	Inserted Counts `json:"inserted"`
	Updated  Counts `json:"updated"`
	Ignored  Counts `json:"ignored"`
}

func NewSummary() Summary {
	return Summary{Inserted: Counts{}, Updated: Counts{}, Ignored: Counts{}}
}

// Detail is one failed row. Row is 1-based within the submitted batch.
type Detail struct {
	Row   int    `json:"fila"`
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

type tallyEntry struct {
	entity  string
	outcome Outcome
}

// RowTally records the outcome of each stage of a single row. It only
// reaches the batch summary once the row has been committed.
type RowTally struct {
	entries []tallyEntry
}

func (t *RowTally) Record(entity string, o Outcome) {
	t.entries = append(t.entries, tallyEntry{entity: entity, outcome: o})
}

// Resolved records an insert when created is true and an ignore otherwise.
func (t *RowTally) Resolved(entity string, created bool) {
	if created {
		t.Record(entity, Inserted)
		return
	}
	t.Record(entity, Ignored)
}

func (t *RowTally) Len() int {
	return len(t.entries)
}

type Aggregator struct {
	summary   Summary
	details   []Detail
	succeeded int
	failed    int
}

func NewAggregator() *Aggregator {
	return &Aggregator{summary: NewSummary()}
}

// Commit merges a successfully processed row.
func (a *Aggregator) Commit(t *RowTally) {
	a.succeeded++
	for _, e := range t.entries {
		switch e.outcome {
		case Inserted:
			a.summary.Inserted[e.entity]++
		case Updated:
			a.summary.Updated[e.entity]++
		case Ignored:
			a.summary.Ignored[e.entity]++
		}
	}
}

// Fail records a row that was rolled back. The row is counted once under
// ignored[reason] and gets a details entry.
func (a *Aggregator) Fail(d Detail, reason string) {
	a.failed++
	a.summary.Ignored[reason]++
	a.details = append(a.details, d)
}

func (a *Aggregator) Succeeded() int { return a.succeeded }
func (a *Aggregator) Failed() int    { return a.failed }

func (a *Aggregator) Summary() Summary {
	out := NewSummary()
	for k, v := range a.summary.Inserted {
		out.Inserted[k] = v
	}
	for k, v := range a.summary.Updated {
		out.Updated[k] = v
	}
	for k, v := range a.summary.Ignored {
		out.Ignored[k] = v
	}
	return out
}

func (a *Aggregator) Details() []Detail {
	out := make([]Detail, len(a.details))
	copy(out, a.details)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Row < out[j].Row })
	return out
}

// Result is the response of one import batch.
type Result struct {
	Message   string
	Summary   Summary
	Details   []Detail
	Fatal     string
	RunID     uuid.UUID
	Flow      string
	TotalRows int
	Committed bool
	DryRun    bool
}

// MarshalJSON renders details as the per-row list, or as the fatal error
// message when the whole batch was rolled back.
func (r Result) MarshalJSON() ([]byte, error) {
	var details any = r.Details
	if r.Fatal != "" {
		details = r.Fatal
	} else if r.Details == nil {
		details = []Detail{}
	}
	return json.Marshal(struct {
		Message   string    `json:"message"`
		Summary   Summary   `json:"summary"`
		Details   any       `json:"details"`
		RunID     uuid.UUID `json:"run_id"`
		Flow      string    `json:"flow"`
		TotalRows int       `json:"total_rows"`
		Committed bool      `json:"committed"`
		DryRun    bool      `json:"dry_run"`
	}{
		Message:   r.Message,
		Summary:   r.Summary,
		Details:   details,
		RunID:     r.RunID,
		Flow:      r.Flow,
		TotalRows: r.TotalRows,
		Committed: r.Committed,
		DryRun:    r.DryRun,
	})
}
