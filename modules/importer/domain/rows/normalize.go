package rows

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if col := f.Tag.Get("column"); col != "" && col != "-" {
			return col
		}
		return f.Name
	})
	return v
}

// FieldProblem describes one column that failed validation.
type FieldProblem struct {
	Column string
	Reason string
}

// ValidationError reports every problem found in a row.
type ValidationError struct {
	Problems []FieldProblem
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, fmt.Sprintf("%q %s", p.Column, p.Reason))
	}
	return strings.Join(parts, "; ")
}

func invalid(column, reason string) *ValidationError {
	return &ValidationError{Problems: []FieldProblem{{Column: column, Reason: reason}}}
}

func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range fieldErrs {
		out.Problems = append(out.Problems, FieldProblem{Column: fe.Field(), Reason: reason(fe)})
	}
	return out
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "min":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "gte":
		return "must not be negative"
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

type TeacherRow struct {
	ExternalID string `column:"Rut Docente" validate:"required"`
	Name       string `column:"Docente"`
	// Lower-cased. Only mandatory when the teacher has to be created.
	Email string `column:"Mail Duoc" validate:"omitempty,email"`
}

type AcademicRow struct {
	School    string   `column:"Escuela" validate:"required"`
	ShiftName string   `column:"Jornada"`
	ShiftCode string   `column:"Cod. Jornada" validate:"required"`
	Plans     []string `column:"Plan Estudio" validate:"min=1"`
	MajorName string   `column:"-"`
	Subject   string   `column:"Asignatura" validate:"required"`
	Section   string   `column:"Seccion" validate:"required"`
	Teacher   TeacherRow
	ExamName  string `column:"Examen"`
	Enrolled  *int64 `column:"Inscritos" validate:"omitempty,gte=0"`
}

type StudentRow struct {
	DisplayName  string `column:"Nombre partic." validate:"required"`
	Email        string `column:"Mail" validate:"required,email"`
	Abbreviation string `column:"Abrev.participante"`
	Section      string `column:"Seccion" validate:"required"`
}

type RoomRow struct {
	Code         string `column:"Codigo" validate:"required"`
	BuildingCode string `column:"-"`
	Name         string `column:"Nombre"`
	Capacity     *int64 `column:"Capacidad" validate:"omitempty,gte=0"`
}

func NormalizeTeacher(r Raw) (TeacherRow, error) {
	row := teacherFrom(r)
	return row, check(row)
}

func teacherFrom(r Raw) TeacherRow {
	return TeacherRow{
		ExternalID: r.Text(ColTeacherID),
		Name:       r.Text(ColTeacherName),
		Email:      strings.ToLower(r.Text(ColTeacherMail)),
	}
}

func NormalizeAcademic(r Raw) (AcademicRow, error) {
	shiftName := r.Text(ColShift)
	row := AcademicRow{
		School:    r.Text(ColSchool),
		ShiftName: shiftName,
		ShiftCode: ShiftCode(r.Text(ColShiftCode), shiftName),
		Plans:     SplitPlans(r.Text(ColStudyPlans)),
		Subject:   r.Text(ColSubject),
		Section:   r.Text(ColSection),
		Teacher:   teacherFrom(r),
		ExamName:  r.Text(ColExam),
		Enrolled:  r.OptionalInt(ColEnrolled),
	}
	if row.ShiftName == "" {
		row.ShiftName = row.ShiftCode
	}
	row.MajorName = JoinPlans(row.Plans)
	if row.ExamName == "" {
		row.ExamName = row.Subject
	}
	if err := check(row); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			for i, p := range verr.Problems {
				if p.Column == ColShiftCode {
					verr.Problems[i].Column = ColShift
				}
			}
		}
		return row, err
	}
	return row, nil
}

func NormalizeStudent(r Raw) (StudentRow, error) {
	row := StudentRow{
		DisplayName:  StudentDisplayName(r.Text(ColStudentName)),
		Email:        strings.ToLower(r.Text(ColStudentMail)),
		Abbreviation: r.Text(ColStudentAbbrev),
		Section:      r.Text(ColSection),
	}
	return row, check(row)
}

func NormalizeRoom(r Raw) (RoomRow, error) {
	row := RoomRow{
		Code:     r.Text(ColRoomCode),
		Name:     r.Text(ColRoomName),
		Capacity: r.OptionalInt(ColRoomCapacity),
	}
	if row.Name == "" {
		row.Name = row.Code
	}
	if err := check(row); err != nil {
		return row, err
	}
	building, ok := BuildingCode(row.Code)
	if !ok {
		return row, invalid(ColRoomCode, "must start with a building code followed by '-'")
	}
	row.BuildingCode = building
	return row, nil
}
