package services

import (
	"strings"

	"github.com/iota-uz/exam-scheduler/modules/importer/domain/rows"
	"github.com/iota-uz/exam-scheduler/modules/importer/infrastructure/persistence"
)

type TeacherAction int

const (
	TeacherInsert TeacherAction = iota + 1
	TeacherUpdateFields
	TeacherSkipNoChange
	TeacherSkipEmailConflict
)

func (a TeacherAction) String() string {
	switch a {
	case TeacherInsert:
		return "insert"
	case TeacherUpdateFields:
		return "update_fields"
	case TeacherSkipNoChange:
		return "skip_no_change"
	case TeacherSkipEmailConflict:
		return "skip_email_conflict"
	default:
		return "unknown"
	}
}

// TeacherPlan is the outcome of PlanTeacherUpsert. Name and Email are the
// values to write; nil leaves the stored value alone.
type TeacherPlan struct {
	Action TeacherAction
	Name   *string
	Email  *string
}

// PlanTeacherUpsert decides what to do with a teacher row. existing is the
// account holding the row's external id, nil when there is none.
// emailOwnerID is the account currently using the candidate email, zero
// when the email is free.
//
// Passwords are never part of an update: they are only set on insert.
func PlanTeacherUpsert(existing *persistence.UserRecord, candidate rows.TeacherRow, emailOwnerID int64) (TeacherPlan, error) {
	name := strings.TrimSpace(candidate.Name)
	email := strings.ToLower(strings.TrimSpace(candidate.Email))

	if existing == nil {
		if email == "" {
			return TeacherPlan{}, rowErrorf(KindInvalidRow, stageTeacher,
				"%q is required to create teacher %s", rows.ColTeacherMail, candidate.ExternalID)
		}
		if emailOwnerID != 0 {
			return TeacherPlan{Action: TeacherSkipEmailConflict}, nil
		}
		return TeacherPlan{Action: TeacherInsert, Name: &name, Email: &email}, nil
	}

	plan := TeacherPlan{Action: TeacherSkipNoChange}
	if email != "" && !strings.EqualFold(email, existing.Email) {
		if emailOwnerID != 0 && emailOwnerID != existing.ID {
			return TeacherPlan{Action: TeacherSkipEmailConflict}, nil
		}
		plan.Email = &email
	}
	if name != "" && name != existing.Name {
		plan.Name = &name
	}
	if plan.Name != nil || plan.Email != nil {
		plan.Action = TeacherUpdateFields
	}
	return plan, nil
}
