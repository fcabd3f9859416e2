package services

import (
	"context"
	"strings"

	"github.com/iota-uz/exam-scheduler/modules/importer/domain/rows"
	"github.com/iota-uz/exam-scheduler/modules/importer/domain/summary"
	p "github.com/iota-uz/exam-scheduler/modules/importer/infrastructure/persistence"
)

// Stage names reported in row details.
const (
	stageNormalize      = "normalize"
	stageSchool         = "school"
	stageShift          = "shift"
	stageMajor          = "major"
	stageStudyPlans     = "study_plans"
	stageSubject        = "subject"
	stageSection        = "section"
	stageTeacher        = "teacher"
	stageTeacherSection = "teacher_section"
	stageExam           = "exam"
	stageStudent        = "student"
	stageStudentSection = "student_section"
	stageBuilding       = "building"
	stageRoom           = "room"
)

// resolve runs ResolveOrCreate for one stage and tallies the outcome under
// entity.
func resolve(
	ctx context.Context,
	q p.Querier,
	tally *summary.RowTally,
	stage, entity string,
	lookup, insert p.Statement,
	lookupArgs, insertArgs []any,
) (int64, error) {
	id, created, err := p.ResolveOrCreate(ctx, q, lookup, insert, lookupArgs, insertArgs)
	if err != nil {
		return 0, classify(stage, err)
	}
	tally.Resolved(entity, created)
	return id, nil
}

func link(ctx context.Context, q p.Querier, tally *summary.RowTally, stage, entity string, stmt p.Statement, left, right int64) error {
	created, err := p.LinkIfAbsent(ctx, q, stmt, left, right)
	if err != nil {
		return classify(stage, err)
	}
	tally.Resolved(entity, created)
	return nil
}

// importAcademic walks the hierarchy of one course line. Each stage only
// runs once its parent resolved in the same row.
func (s *ImportService) importAcademic(ctx context.Context, q p.Querier, b *batch, raw rows.Raw, tally *summary.RowTally) error {
	row, err := rows.NormalizeAcademic(raw)
	if err != nil {
		return classify(stageNormalize, err)
	}

	schoolKey := []any{row.School, b.siteID}
	schoolID, err := resolve(ctx, q, tally, stageSchool, summary.Schools,
		p.LookupSchool, p.InsertSchool, schoolKey, schoolKey)
	if err != nil {
		return err
	}

	shiftID, err := resolve(ctx, q, tally, stageShift, summary.Shifts,
		p.LookupShift, p.InsertShift, []any{row.ShiftCode}, []any{row.ShiftName, row.ShiftCode})
	if err != nil {
		return err
	}

	majorKey := []any{row.MajorName, schoolID}
	majorID, err := resolve(ctx, q, tally, stageMajor, summary.Majors,
		p.LookupMajor, p.InsertMajor, majorKey, majorKey)
	if err != nil {
		return err
	}
	for _, plan := range row.Plans {
		planID, err := resolve(ctx, q, tally, stageStudyPlans, summary.StudyPlans,
			p.LookupStudyPlan, p.InsertStudyPlan, []any{plan}, []any{plan})
		if err != nil {
			return err
		}
		if err := link(ctx, q, tally, stageStudyPlans, summary.MajorStudyPlans, p.LinkMajorStudyPlan, majorID, planID); err != nil {
			return err
		}
	}

	subjectKey := []any{row.Subject, majorID}
	subjectID, err := resolve(ctx, q, tally, stageSubject, summary.Subjects,
		p.LookupSubject, p.InsertSubject, subjectKey, subjectKey)
	if err != nil {
		return err
	}

	sectionKey := []any{row.Section, subjectID, shiftID}
	sectionID, err := resolve(ctx, q, tally, stageSection, summary.Sections,
		p.LookupSection, p.InsertSection, sectionKey, sectionKey)
	if err != nil {
		return err
	}

	teacherID, err := s.upsertTeacher(ctx, q, b, row.Teacher, tally)
	if err != nil {
		return err
	}
	if err := link(ctx, q, tally, stageTeacherSection, summary.TeacherSections, p.LinkUserSection, teacherID, sectionID); err != nil {
		return err
	}

	// Exams are never updated: an existing one is only counted as ignored.
	_, err = resolve(ctx, q, tally, stageExam, summary.Exams,
		p.LookupExam, p.InsertExam,
		[]any{row.ExamName, sectionID},
		[]any{row.ExamName, sectionID, row.Enrolled, b.runID, b.startedAt},
	)
	return err
}

func (s *ImportService) importTeacher(ctx context.Context, q p.Querier, b *batch, raw rows.Raw, tally *summary.RowTally) error {
	row, err := rows.NormalizeTeacher(raw)
	if err != nil {
		return classify(stageNormalize, err)
	}
	_, err = s.upsertTeacher(ctx, q, b, row, tally)
	return err
}

// upsertTeacher applies PlanTeacherUpsert and returns the teacher's id.
func (s *ImportService) upsertTeacher(ctx context.Context, q p.Querier, b *batch, candidate rows.TeacherRow, tally *summary.RowTally) (int64, error) {
	existing, err := p.FindTeacher(ctx, q, candidate.ExternalID)
	if err != nil {
		return 0, classify(stageTeacher, err)
	}

	var emailOwner int64
	if candidate.Email != "" && (existing == nil || !strings.EqualFold(candidate.Email, existing.Email)) {
		if emailOwner, err = p.FindEmailOwner(ctx, q, candidate.Email); err != nil {
			return 0, classify(stageTeacher, err)
		}
	}

	plan, err := PlanTeacherUpsert(existing, candidate, emailOwner)
	if err != nil {
		return 0, classify(stageTeacher, err)
	}

	switch plan.Action {
	case TeacherInsert:
		hash, err := s.hash(candidate.ExternalID)
		if err != nil {
			return 0, rowErrorf(KindInvalidRow, stageTeacher, "derive password for teacher %s: %v", candidate.ExternalID, err)
		}
		return resolve(ctx, q, tally, stageTeacher, summary.Teachers,
			p.LookupTeacherID, p.InsertTeacher,
			[]any{candidate.ExternalID},
			[]any{candidate.ExternalID, *plan.Name, *plan.Email, hash, b.teacherRoleID},
		)
	case TeacherUpdateFields:
		if err := p.UpdateUser(ctx, q, existing.ID, plan.Name, plan.Email); err != nil {
			return 0, classify(stageTeacher, err)
		}
		tally.Record(summary.Teachers, summary.Updated)
	case TeacherSkipNoChange:
		tally.Record(summary.Teachers, summary.Ignored)
	case TeacherSkipEmailConflict:
		return 0, rowErrorf(KindConflict, stageTeacher, "email %s already in use by another account", candidate.Email)
	}
	return existing.ID, nil
}

func (s *ImportService) importStudent(ctx context.Context, q p.Querier, b *batch, raw rows.Raw, tally *summary.RowTally) error {
	row, err := rows.NormalizeStudent(raw)
	if err != nil {
		return classify(stageNormalize, err)
	}

	// Existing students are matched by email and left untouched.
	studentID, found, err := p.LookupID(ctx, q, p.LookupUserByEmail, row.Email)
	if err != nil {
		return classify(stageStudent, err)
	}
	if found {
		tally.Resolved(summary.Students, false)
	} else {
		if row.Abbreviation == "" {
			return rowErrorf(KindInvalidRow, stageStudent, "%q is required to create student %s", rows.ColStudentAbbrev, row.Email)
		}
		hash, err := s.hash(row.Abbreviation)
		if err != nil {
			return rowErrorf(KindInvalidRow, stageStudent, "derive password for student %s: %v", row.Email, err)
		}
		studentID, err = resolve(ctx, q, tally, stageStudent, summary.Students,
			p.LookupUserByEmail, p.InsertStudent,
			[]any{row.Email},
			[]any{row.DisplayName, row.Email, hash, b.studentRoleID},
		)
		if err != nil {
			return err
		}
	}

	sectionID, found, err := p.LookupID(ctx, q, p.LookupSectionByName, row.Section)
	if err != nil {
		return classify(stageSection, err)
	}
	if !found {
		return rowErrorf(KindMissingReference, stageSection, "section %q not found", row.Section)
	}
	return link(ctx, q, tally, stageStudentSection, summary.StudentSections, p.LinkUserSection, studentID, sectionID)
}

func (s *ImportService) importRoom(ctx context.Context, q p.Querier, _ *batch, raw rows.Raw, tally *summary.RowTally) error {
	row, err := rows.NormalizeRoom(raw)
	if err != nil {
		return classify(stageNormalize, err)
	}

	buildingID, found, err := p.LookupID(ctx, q, p.LookupBuilding, row.BuildingCode)
	if err != nil {
		return classify(stageBuilding, err)
	}
	if !found {
		return rowErrorf(KindMissingReference, stageBuilding, "building %q not found", row.BuildingCode)
	}

	_, created, err := p.ResolveOrCreate(ctx, q, p.LookupRoom, p.InsertRoom,
		[]any{row.Code, row.Name},
		[]any{row.Code, row.Name, row.Capacity, buildingID},
	)
	if err != nil {
		return classify(stageRoom, err)
	}
	if !created {
		return rowErrorf(KindConflict, stageRoom, "room code %q or name %q already exists", row.Code, row.Name)
	}
	tally.Resolved(summary.Rooms, true)
	return nil
}
