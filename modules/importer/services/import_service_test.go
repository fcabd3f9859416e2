package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iota-uz/exam-scheduler/modules/importer/domain/rows"
	"github.com/iota-uz/exam-scheduler/modules/importer/domain/summary"
	"github.com/iota-uz/exam-scheduler/modules/importer/infrastructure/persistence"
	"github.com/iota-uz/exam-scheduler/modules/importer/infrastructure/persistence/memdb"
	"github.com/iota-uz/exam-scheduler/modules/importer/services"
)

type fixture struct {
	db      *memdb.DB
	site    int64
	teacher int64
	student int64
	svc     *services.ImportService
}

func newFixture(t *testing.T, mutate ...func(*services.Options)) *fixture {
	t.Helper()
	db := memdb.New()
	f := &fixture{
		db:      db,
		site:    db.Seed("sites", memdb.Record{"name": "Sede Centro"}),
		teacher: db.Seed("roles", memdb.Record{"name": "Docente"}),
		student: db.Seed("roles", memdb.Record{"name": "Alumno"}),
	}
	opts := services.Options{
		TeacherRole:   "Docente",
		StudentRole:   "Alumno",
		DefaultSiteID: f.site,
		BcryptCost:    bcrypt.MinCost,
	}
	for _, m := range mutate {
		m(&opts)
	}
	f.svc = services.NewImportService(db, opts)
	return f
}

func (f *fixture) run(t *testing.T, flow rows.Flow, raws ...rows.Raw) summary.Result {
	t.Helper()
	res, err := f.svc.Run(context.Background(), flow, raws, services.BatchOptions{})
	require.NoError(t, err)
	require.True(t, res.Committed)
	return res
}

func courseRow(plans, section string) rows.Raw {
	return rows.Raw{
		"Escuela":      "Informática",
		"Jornada":      "Diurna",
		"Plan Estudio": plans,
		"Asignatura":   "Cálculo I",
		"Seccion":      section,
		"Rut Docente":  "12345",
		"Docente":      "Ana Ruiz",
		"Mail Duoc":    "ANA@x.cl",
		"Inscritos":    json.Number("35"),
	}
}

func teacherRow(id, name, email string) rows.Raw {
	return rows.Raw{"Rut Docente": id, "Docente": name, "Mail Duoc": email}
}

func TestAcademic_FirstImportCreatesHierarchy(t *testing.T) {
	f := newFixture(t)

	res := f.run(t, rows.FlowAcademic, courseRow("2020 2021", "MAT1-001D"))

	require.Empty(t, res.Details)
	require.Equal(t, summary.Counts{
		summary.Schools:         1,
		summary.Shifts:          1,
		summary.Majors:          1,
		summary.StudyPlans:      2,
		summary.MajorStudyPlans: 2,
		summary.Subjects:        1,
		summary.Sections:        1,
		summary.Teachers:        1,
		summary.TeacherSections: 1,
		summary.Exams:           1,
	}, res.Summary.Inserted)
	require.Empty(t, res.Summary.Updated)
	require.Empty(t, res.Summary.Ignored)

	require.Equal(t, "2020,2021", f.db.Rows("majors")[0]["name"])
	shift := f.db.Rows("shifts")[0]
	require.Equal(t, "DI", shift["code"])
	require.Equal(t, "Diurna", shift["name"])

	exam := f.db.Rows("exams")[0]
	require.Equal(t, "Cálculo I", exam["name"])
	require.Equal(t, int64(35), exam["enrolled"])
	require.Equal(t, res.RunID, exam["import_run_id"])

	teacher := f.db.Rows("users")[0]
	require.Equal(t, "ana@x.cl", teacher["email"])
	require.Equal(t, f.teacher, teacher["role_id"])
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(teacher["password_hash"].(string)), []byte("12345")))
}

func TestAcademic_ReimportIsIdempotent(t *testing.T) {
	f := newFixture(t)
	row := courseRow("2020 2021", "MAT1-001D")
	f.run(t, rows.FlowAcademic, row)

	before := map[string]int{}
	tables := []string{"schools", "shifts", "majors", "study_plans", "major_study_plans", "subjects", "sections", "users", "user_sections", "exams"}
	for _, table := range tables {
		before[table] = f.db.Count(table)
	}

	res := f.run(t, rows.FlowAcademic, row)

	require.Zero(t, res.Summary.Inserted.Total())
	require.Zero(t, res.Summary.Updated.Total())
	require.Equal(t, 1, res.Summary.Ignored[summary.Teachers])
	require.Equal(t, 2, res.Summary.Ignored[summary.StudyPlans])
	require.Equal(t, 1, res.Summary.Ignored[summary.Exams])
	for _, table := range tables {
		require.Equal(t, before[table], f.db.Count(table), table)
	}
}

func TestAcademic_SharedPlansAcrossMajors(t *testing.T) {
	f := newFixture(t)

	res := f.run(t, rows.FlowAcademic,
		courseRow("2020 2021", "MAT1-001D"),
		courseRow("2021", "MAT1-002D"),
	)

	require.Equal(t, 2, res.Summary.Inserted[summary.Majors])
	require.Equal(t, 2, res.Summary.Inserted[summary.StudyPlans])
	require.Equal(t, 1, res.Summary.Ignored[summary.StudyPlans])
	require.Equal(t, 3, res.Summary.Inserted[summary.MajorStudyPlans])
	require.Equal(t, 2, f.db.Count("study_plans"))
	require.Equal(t, 3, f.db.Count("major_study_plans"))
}

func TestAcademic_FailedRowsAreIsolated(t *testing.T) {
	f := newFixture(t)

	missingSchool := courseRow("2020", "MAT1-002D")
	delete(missingSchool, "Escuela")
	res := f.run(t, rows.FlowAcademic,
		courseRow("2020", "MAT1-001D"),
		missingSchool,
		courseRow("2020", "MAT1-003D"),
	)

	require.Equal(t, []summary.Detail{{
		Row:   2,
		Error: `"Escuela" is required`,
		Stage: "normalize",
		Kind:  string(services.KindInvalidRow),
	}}, res.Details)
	require.Equal(t, 1, res.Summary.Ignored[string(services.KindInvalidRow)])
	require.Equal(t, 2, res.Summary.Inserted[summary.Sections])
	require.Equal(t, 2, f.db.Count("sections"))
	require.Equal(t, 2, f.db.Count("exams"))
}

func TestAcademic_ChildrenRollBackWithTheirRow(t *testing.T) {
	f := newFixture(t)

	row := courseRow("2020", "MAT1-001D")
	row["Rut Docente"] = "99999"
	delete(row, "Mail Duoc")
	res := f.run(t, rows.FlowAcademic, row)

	require.Len(t, res.Details, 1)
	require.Equal(t, "teacher", res.Details[0].Stage)
	require.Equal(t, string(services.KindInvalidRow), res.Details[0].Kind)
	require.Contains(t, res.Details[0].Error, "Mail Duoc")
	require.Equal(t, summary.Counts{string(services.KindInvalidRow): 1}, res.Summary.Ignored)
	require.Zero(t, res.Summary.Inserted.Total())
	for _, table := range []string{"schools", "shifts", "majors", "study_plans", "subjects", "sections", "users", "exams"} {
		require.Zero(t, f.db.Count(table), table)
	}
}

func TestAcademic_UnknownSiteIsMissingReference(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Run(context.Background(), rows.FlowAcademic,
		[]rows.Raw{courseRow("2020", "MAT1-001D")}, services.BatchOptions{SiteID: 404})
	require.NoError(t, err)
	require.Len(t, res.Details, 1)
	require.Equal(t, "school", res.Details[0].Stage)
	require.Equal(t, string(services.KindMissingReference), res.Details[0].Kind)
	require.Zero(t, f.db.Count("schools"))
}

func TestSummaryIsAPartitionOfRows(t *testing.T) {
	f := newFixture(t)
	f.db.Seed("buildings", memdb.Record{"code": "A"})

	raws := []rows.Raw{
		{"Codigo": "A-101", "Nombre": "Sala 101"},
		{"Codigo": "A-102"},
		{"Codigo": "Z-1"},
		{"Codigo": "sin guion"},
		{"Codigo": "A-101", "Nombre": "Otra"},
	}
	res := f.run(t, rows.FlowRooms, raws...)

	failed := len(res.Details)
	committed := res.Summary.Inserted[summary.Rooms]
	require.Equal(t, len(raws), committed+failed)
	require.Equal(t, failed,
		res.Summary.Ignored[string(services.KindConflict)]+
			res.Summary.Ignored[string(services.KindMissingReference)]+
			res.Summary.Ignored[string(services.KindInvalidRow)])
	require.Equal(t, "Import completed: 2 of 5 rows imported, 3 with errors", res.Message)
}

func TestTeachers_UpsertScenario(t *testing.T) {
	f := newFixture(t)

	res := f.run(t, rows.FlowTeachers, teacherRow("12345", "Ana Ruiz", "ana@x.cl"))
	require.Equal(t, 1, res.Summary.Inserted[summary.Teachers])
	hash := f.db.Rows("users")[0]["password_hash"]

	res = f.run(t, rows.FlowTeachers, teacherRow("12345", "", "Ana.Ruiz@x.cl"))
	require.Equal(t, 1, res.Summary.Updated[summary.Teachers])
	user := f.db.Rows("users")[0]
	require.Equal(t, "Ana Ruiz", user["name"])
	require.Equal(t, "ana.ruiz@x.cl", user["email"])
	require.Equal(t, hash, user["password_hash"])

	f.db.Seed("users", memdb.Record{"name": "Otro", "email": "otro@x.cl"})
	res = f.run(t, rows.FlowTeachers, teacherRow("12345", "Ana María Ruiz", "otro@x.cl"))
	require.Len(t, res.Details, 1)
	require.Equal(t, string(services.KindConflict), res.Details[0].Kind)
	require.Contains(t, res.Details[0].Error, "already in use")
	require.Equal(t, 1, res.Summary.Ignored[string(services.KindConflict)])
	user = f.db.Rows("users")[0]
	require.Equal(t, "Ana Ruiz", user["name"])
	require.Equal(t, "ana.ruiz@x.cl", user["email"])

	res = f.run(t, rows.FlowTeachers, teacherRow("12345", "Ana Ruiz", "ANA.RUIZ@x.cl"))
	require.Equal(t, summary.Counts{summary.Teachers: 1}, res.Summary.Ignored)
	require.Empty(t, res.Details)
}

func TestTeachers_NewTeacherWithTakenEmail(t *testing.T) {
	f := newFixture(t)
	f.db.Seed("users", memdb.Record{"name": "Otro", "email": "otro@x.cl"})

	res := f.run(t, rows.FlowTeachers, teacherRow("777", "Luis", "otro@x.cl"))

	require.Len(t, res.Details, 1)
	require.Equal(t, string(services.KindConflict), res.Details[0].Kind)
	require.Equal(t, 1, f.db.Count("users"))
}

func TestStudents_Scenario(t *testing.T) {
	f := newFixture(t)
	f.db.Seed("sections", memdb.Record{"name": "MAT1-001D"})

	row := rows.Raw{
		"Nombre partic.":     "Pérez, Juan",
		"Mail":               "JUAN@x.cl",
		"Abrev.participante": "jperez",
		"Seccion":            "MAT1-001D",
	}
	res := f.run(t, rows.FlowStudents, row)
	require.Equal(t, summary.Counts{summary.Students: 1, summary.StudentSections: 1}, res.Summary.Inserted)

	student := f.db.Rows("users")[0]
	require.Equal(t, "Juan Pérez", student["name"])
	require.Equal(t, "juan@x.cl", student["email"])
	require.Equal(t, f.student, student["role_id"])
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(student["password_hash"].(string)), []byte("jperez")))

	res = f.run(t, rows.FlowStudents, row)
	require.Zero(t, res.Summary.Inserted.Total())
	require.Equal(t, summary.Counts{summary.Students: 1, summary.StudentSections: 1}, res.Summary.Ignored)
}

func TestStudents_RowFailures(t *testing.T) {
	f := newFixture(t)
	f.db.Seed("sections", memdb.Record{"name": "MAT1-001D"})

	res := f.run(t, rows.FlowStudents,
		rows.Raw{"Nombre partic.": "Soto, Eva", "Mail": "eva@x.cl", "Abrev.participante": "esoto", "Seccion": "NOPE-1"},
		rows.Raw{"Nombre partic.": "Rojas, Leo", "Mail": "leo@x.cl", "Seccion": "MAT1-001D"},
		rows.Raw{"Nombre partic.": "Díaz, Ema", "Mail": "no-es-correo", "Abrev.participante": "ediaz", "Seccion": "MAT1-001D"},
	)

	require.Len(t, res.Details, 3)
	require.Equal(t, "section", res.Details[0].Stage)
	require.Equal(t, string(services.KindMissingReference), res.Details[0].Kind)
	require.Equal(t, "student", res.Details[1].Stage)
	require.Equal(t, string(services.KindInvalidRow), res.Details[1].Kind)
	require.Equal(t, "normalize", res.Details[2].Stage)
	require.Zero(t, f.db.Count("users"))
	require.Zero(t, f.db.Count("user_sections"))
}

func TestRooms_Import(t *testing.T) {
	f := newFixture(t)
	building := f.db.Seed("buildings", memdb.Record{"code": "A"})

	res := f.run(t, rows.FlowRooms, rows.Raw{"Codigo": "a-101", "Nombre": "Sala 101", "Capacidad": 40.0})
	require.Equal(t, summary.Counts{summary.Rooms: 1}, res.Summary.Inserted)
	room := f.db.Rows("rooms")[0]
	require.Equal(t, building, room["building_id"])
	require.Equal(t, int64(40), room["capacity"])

	res = f.run(t, rows.FlowRooms,
		rows.Raw{"Codigo": "A-102", "Nombre": "Sala 101"},
		rows.Raw{"Codigo": "B-1"},
	)
	require.Len(t, res.Details, 2)
	require.Equal(t, string(services.KindConflict), res.Details[0].Kind)
	require.Equal(t, "room", res.Details[0].Stage)
	require.Equal(t, string(services.KindMissingReference), res.Details[1].Kind)
	require.Equal(t, "building", res.Details[1].Stage)
	require.Equal(t, 1, f.db.Count("rooms"))
}

func TestRooms_ColumnAliases(t *testing.T) {
	f := newFixture(t, func(o *services.Options) {
		o.Aliases = rows.Aliases{rows.FlowRooms: {rows.ColRoomCode: {"Code"}, rows.ColRoomName: {"Name"}}}
	})
	f.db.Seed("buildings", memdb.Record{"code": "A"})

	res := f.run(t, rows.FlowRooms, rows.Raw{"Code": "A-201", "Name": "Lab"})

	require.Empty(t, res.Details)
	require.Equal(t, "Lab", f.db.Rows("rooms")[0]["name"])
}

func TestRun_FatalErrorRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	f.db.Inject(&memdb.Fault{
		Statement: persistence.InsertSubject,
		Match:     func(args []any) bool { return args[0] == "Física" },
		Err:       &pgconn.PgError{Code: "08006", Message: "connection failure"},
	})

	second := courseRow("2020", "FIS1-001D")
	second["Asignatura"] = "Física"
	res, err := f.svc.Run(context.Background(), rows.FlowAcademic,
		[]rows.Raw{courseRow("2020", "MAT1-001D"), second}, services.BatchOptions{})

	var fatal *services.FatalBatchError
	require.True(t, errors.As(err, &fatal))
	require.Equal(t, 2, fatal.Row)
	require.Equal(t, "subject", fatal.Stage)
	require.False(t, res.Committed)
	require.NotEmpty(t, res.Fatal)
	require.Equal(t, summary.Counts{
		summary.Schools: 1, summary.Shifts: 1, summary.Majors: 1, summary.StudyPlans: 1,
		summary.MajorStudyPlans: 1, summary.Subjects: 1, summary.Sections: 1, summary.Teachers: 1,
		summary.TeacherSections: 1, summary.Exams: 1,
	}, res.Summary.Inserted)
	require.Empty(t, res.Summary.Ignored)
	for _, table := range []string{"schools", "majors", "subjects", "sections", "users", "exams"} {
		require.Zero(t, f.db.Count(table), table)
	}

	out, err := json.Marshal(res)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.IsType(t, "", decoded["details"])
	require.Equal(t, "Import failed: all changes were rolled back", decoded["message"])
}

func TestRun_SavepointRollbackFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.db.Inject(&memdb.Fault{Statement: memdb.RollbackSavepoint, Err: errors.New("conn busy")})
	f.db.Seed("buildings", memdb.Record{"code": "A"})

	_, err := f.svc.Run(context.Background(), rows.FlowRooms,
		[]rows.Raw{{"Codigo": "A-1"}, {"Codigo": "sin guion"}}, services.BatchOptions{})

	var fatal *services.FatalBatchError
	require.True(t, errors.As(err, &fatal))
	require.Equal(t, 2, fatal.Row)
	require.Equal(t, "savepoint", fatal.Stage)
	require.Zero(t, f.db.Count("rooms"))
}

func TestRun_CanceledContextIsFatal(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.db.Inject(&memdb.Fault{
		Statement:  persistence.LookupShift,
		Concurrent: func(*memdb.Tables) { cancel() },
	})

	_, err := f.svc.Run(ctx, rows.FlowAcademic, []rows.Raw{courseRow("2020", "MAT1-001D")}, services.BatchOptions{})

	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, f.db.Count("schools"))
}

func TestRun_MissingRoleIsFatal(t *testing.T) {
	f := newFixture(t, func(o *services.Options) { o.StudentRole = "Estudiante" })

	res, err := f.svc.Run(context.Background(), rows.FlowStudents,
		[]rows.Raw{{"Nombre partic.": "Soto, Eva", "Mail": "eva@x.cl", "Seccion": "A"}}, services.BatchOptions{})

	require.ErrorIs(t, err, persistence.ErrRoleNotFound)
	var fatal *services.FatalBatchError
	require.True(t, errors.As(err, &fatal))
	require.Equal(t, "roles", fatal.Stage)
	require.Contains(t, res.Fatal, "Estudiante")
}

func TestRun_DryRunLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	runID := uuid.New()

	res, err := f.svc.Run(context.Background(), rows.FlowAcademic,
		[]rows.Raw{courseRow("2020", "MAT1-001D")}, services.BatchOptions{DryRun: true, RunID: runID})

	require.NoError(t, err)
	require.True(t, res.DryRun)
	require.False(t, res.Committed)
	require.Equal(t, runID, res.RunID)
	require.Equal(t, 1, res.Summary.Inserted[summary.Exams])
	require.Contains(t, res.Message, "Dry run completed")
	require.Zero(t, f.db.Count("schools"))
	require.Zero(t, f.db.Count("exams"))
}

func TestRun_Preconditions(t *testing.T) {
	f := newFixture(t, func(o *services.Options) {
		o.MaxRows = 1
		o.StatementTimeout = 5_000_000_000
	})

	_, err := f.svc.Run(context.Background(), rows.Flow("grades"), nil, services.BatchOptions{})
	require.ErrorIs(t, err, services.ErrUnknownFlow)

	_, err = f.svc.Run(context.Background(), rows.FlowTeachers,
		[]rows.Raw{teacherRow("1", "A", "a@x.cl"), teacherRow("2", "B", "b@x.cl")}, services.BatchOptions{})
	require.ErrorIs(t, err, services.ErrTooManyRows)
	require.Zero(t, f.db.Calls(memdb.Begin))

	f.run(t, rows.FlowTeachers, teacherRow("1", "A", "a@x.cl"))
	require.Equal(t, 1, f.db.Calls(persistence.SetStatementTimeout))
}

func TestRun_EmptyBatchCommits(t *testing.T) {
	f := newFixture(t)

	res := f.run(t, rows.FlowTeachers)

	require.Equal(t, 0, res.TotalRows)
	require.Equal(t, "Import completed: 0 of 0 rows imported, 0 with errors", res.Message)
}
