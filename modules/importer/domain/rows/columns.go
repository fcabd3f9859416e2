package rows

import (
	"fmt"
	"strings"
)

// Flow names one import endpoint. Each flow reads its own set of columns.
type Flow string

const (
	FlowAcademic Flow = "academic"
	FlowStudents Flow = "students"
	FlowTeachers Flow = "teachers"
	FlowRooms    Flow = "rooms"
)

var Flows = []Flow{FlowAcademic, FlowStudents, FlowTeachers, FlowRooms}

func ParseFlow(s string) (Flow, error) {
	f := Flow(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Flows {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown import flow %q", s)
}

// Spreadsheet headers as they appear in the institution's exports.
const (
	ColSchool      = "Escuela"
	ColShift       = "Jornada"
	ColShiftCode   = "Cod. Jornada"
	ColStudyPlans  = "Plan Estudio"
	ColSubject     = "Asignatura"
	ColSection     = "Seccion"
	ColTeacherID   = "Rut Docente"
	ColTeacherName = "Docente"
	ColTeacherMail = "Mail Duoc"
	ColExam        = "Examen"
	ColEnrolled    = "Inscritos"

	ColStudentName   = "Nombre partic."
	ColStudentMail   = "Mail"
	ColStudentAbbrev = "Abrev.participante"

	ColRoomCode     = "Codigo"
	ColRoomName     = "Nombre"
	ColRoomCapacity = "Capacidad"
)

// Columns lists the headers each flow reads, required ones first.
var Columns = map[Flow][]string{
	FlowAcademic: {
		ColSchool, ColStudyPlans, ColSubject, ColSection, ColTeacherID,
		ColShift, ColShiftCode, ColTeacherName, ColTeacherMail, ColExam, ColEnrolled,
	},
	FlowStudents: {ColStudentName, ColStudentMail, ColSection, ColStudentAbbrev},
	FlowTeachers: {ColTeacherID, ColTeacherName, ColTeacherMail},
	FlowRooms:    {ColRoomCode, ColRoomName, ColRoomCapacity},
}
