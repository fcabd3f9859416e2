package memdb

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	p "github.com/iota-uz/exam-scheduler/modules/importer/infrastructure/persistence"
)

type handler func(t *Tables, args []any) result

var handlers = map[string]handler{
	p.LookupSchool.SQL: lookup("schools", func(r Record, a []any) bool {
		return toString(r["name"]) == toString(a[0]) && toInt64(r["site_id"]) == toInt64(a[1])
	}),
	p.InsertSchool.SQL: insert("schools",
		[]fk{{"sites", 1, "schools_site_id_fkey"}},
		[]unique{{"schools_site_id_name_key", func(r Record, a []any) bool {
			return toString(r["name"]) == toString(a[0]) && toInt64(r["site_id"]) == toInt64(a[1])
		}}},
		func(a []any) Record { return Record{"name": a[0], "site_id": toInt64(a[1])} },
	),

	p.LookupShift.SQL: lookup("shifts", func(r Record, a []any) bool {
		return toString(r["code"]) == toString(a[0])
	}),
	p.InsertShift.SQL: insert("shifts", nil,
		[]unique{{"shifts_code_key", func(r Record, a []any) bool { return toString(r["code"]) == toString(a[1]) }}},
		func(a []any) Record { return Record{"name": a[0], "code": a[1]} },
	),

	p.LookupMajor.SQL: lookup("majors", func(r Record, a []any) bool {
		return toString(r["name"]) == toString(a[0]) && toInt64(r["school_id"]) == toInt64(a[1])
	}),
	p.InsertMajor.SQL: insert("majors",
		[]fk{{"schools", 1, "majors_school_id_fkey"}},
		[]unique{{"majors_school_id_name_key", func(r Record, a []any) bool {
			return toString(r["name"]) == toString(a[0]) && toInt64(r["school_id"]) == toInt64(a[1])
		}}},
		func(a []any) Record { return Record{"name": a[0], "school_id": toInt64(a[1])} },
	),

	p.LookupStudyPlan.SQL: lookup("study_plans", func(r Record, a []any) bool {
		return strings.EqualFold(toString(r["name"]), toString(a[0]))
	}),
	p.InsertStudyPlan.SQL: insert("study_plans", nil,
		[]unique{{"study_plans_name_key", func(r Record, a []any) bool {
			return strings.EqualFold(toString(r["name"]), toString(a[0]))
		}}},
		func(a []any) Record { return Record{"name": a[0]} },
	),
	p.LinkMajorStudyPlan.SQL: link("major_study_plans", "major_id", "study_plan_id",
		[]fk{{"majors", 0, "major_study_plans_major_id_fkey"}, {"study_plans", 1, "major_study_plans_study_plan_id_fkey"}}),

	p.LookupSubject.SQL: lookup("subjects", func(r Record, a []any) bool {
		return toString(r["name"]) == toString(a[0]) && toInt64(r["major_id"]) == toInt64(a[1])
	}),
	p.InsertSubject.SQL: insert("subjects",
		[]fk{{"majors", 1, "subjects_major_id_fkey"}},
		[]unique{{"subjects_major_id_name_key", func(r Record, a []any) bool {
			return toString(r["name"]) == toString(a[0]) && toInt64(r["major_id"]) == toInt64(a[1])
		}}},
		func(a []any) Record { return Record{"name": a[0], "major_id": toInt64(a[1])} },
	),

	p.LookupSection.SQL: lookup("sections", func(r Record, a []any) bool {
		return toString(r["name"]) == toString(a[0]) &&
			toInt64(r["subject_id"]) == toInt64(a[1]) &&
			toInt64(r["shift_id"]) == toInt64(a[2])
	}),
	p.InsertSection.SQL: insert("sections",
		[]fk{{"subjects", 1, "sections_subject_id_fkey"}, {"shifts", 2, "sections_shift_id_fkey"}},
		[]unique{{"sections_subject_id_shift_id_name_key", func(r Record, a []any) bool {
			return toString(r["name"]) == toString(a[0]) &&
				toInt64(r["subject_id"]) == toInt64(a[1]) &&
				toInt64(r["shift_id"]) == toInt64(a[2])
		}}},
		func(a []any) Record {
			return Record{"name": a[0], "subject_id": toInt64(a[1]), "shift_id": toInt64(a[2])}
		},
	),
	p.LookupSectionByName.SQL: lookup("sections", func(r Record, a []any) bool {
		return toString(r["name"]) == toString(a[0])
	}),

	p.LookupRole.SQL: lookup("roles", func(r Record, a []any) bool {
		return strings.EqualFold(toString(r["name"]), toString(a[0]))
	}),

	p.LookupTeacher.SQL: func(t *Tables, a []any) result {
		r, ok := t.find("users", func(r Record) bool { return toString(r["external_id"]) == toString(a[0]) })
		if !ok {
			return result{}
		}
		return result{rows: [][]any{{r["id"], toString(r["name"]), toString(r["email"])}}}
	},
	p.LookupTeacherID.SQL: lookup("users", func(r Record, a []any) bool {
		return toString(a[0]) != "" && toString(r["external_id"]) == toString(a[0])
	}),
	p.InsertTeacher.SQL: insert("users",
		[]fk{{"roles", 4, "users_role_id_fkey"}},
		[]unique{
			{"users_external_id_key", func(r Record, a []any) bool {
				return toString(r["external_id"]) == toString(a[0])
			}},
			{"users_email_key", func(r Record, a []any) bool {
				return strings.EqualFold(toString(r["email"]), toString(a[2]))
			}},
		},
		func(a []any) Record {
			return Record{
				"external_id": a[0], "name": a[1], "email": a[2],
				"password_hash": a[3], "role_id": toInt64(a[4]),
			}
		},
	),
	p.UpdateUserFields.SQL: func(t *Tables, a []any) result {
		id := toInt64(a[0])
		name, hasName := nullableString(a[1])
		email, hasEmail := nullableString(a[2])
		if hasEmail {
			if _, taken := t.find("users", func(r Record) bool {
				return r["id"].(int64) != id && strings.EqualFold(toString(r["email"]), email)
			}); taken {
				return result{err: uniqueErr("users_email_key")}
			}
		}
		n := 0
		for _, r := range t.data["users"] {
			if r["id"].(int64) != id {
				continue
			}
			if hasName {
				r["name"] = name
			}
			if hasEmail {
				r["email"] = email
			}
			n++
		}
		return result{tag: fmt.Sprintf("UPDATE %d", n)}
	},
	p.LookupUserByEmail.SQL: lookup("users", func(r Record, a []any) bool {
		return strings.EqualFold(toString(r["email"]), toString(a[0]))
	}),
	p.InsertStudent.SQL: insert("users",
		[]fk{{"roles", 3, "users_role_id_fkey"}},
		[]unique{{"users_email_key", func(r Record, a []any) bool {
			return strings.EqualFold(toString(r["email"]), toString(a[1]))
		}}},
		func(a []any) Record {
			return Record{"name": a[0], "email": a[1], "password_hash": a[2], "role_id": toInt64(a[3])}
		},
	),
	p.LinkUserSection.SQL: link("user_sections", "user_id", "section_id",
		[]fk{{"users", 0, "user_sections_user_id_fkey"}, {"sections", 1, "user_sections_section_id_fkey"}}),

	p.LookupExam.SQL: lookup("exams", func(r Record, a []any) bool {
		return toString(r["name"]) == toString(a[0]) && toInt64(r["section_id"]) == toInt64(a[1])
	}),
	p.InsertExam.SQL: insert("exams",
		[]fk{{"sections", 1, "exams_section_id_fkey"}},
		[]unique{{"exams_section_id_name_key", func(r Record, a []any) bool {
			return toString(r["name"]) == toString(a[0]) && toInt64(r["section_id"]) == toInt64(a[1])
		}}},
		func(a []any) Record {
			return Record{
				"name": a[0], "section_id": toInt64(a[1]), "enrolled": nullableInt(a[2]),
				"import_run_id": a[3], "imported_at": a[4],
			}
		},
	),

	p.LookupBuilding.SQL: lookup("buildings", func(r Record, a []any) bool {
		return strings.EqualFold(toString(r["code"]), toString(a[0]))
	}),
	p.LookupRoom.SQL: lookup("rooms", func(r Record, a []any) bool {
		return strings.EqualFold(toString(r["code"]), toString(a[0])) ||
			strings.EqualFold(toString(r["name"]), toString(a[1]))
	}),
	p.InsertRoom.SQL: insert("rooms",
		[]fk{{"buildings", 3, "rooms_building_id_fkey"}},
		[]unique{
			{"rooms_code_key", func(r Record, a []any) bool { return toString(r["code"]) == toString(a[0]) }},
			{"rooms_name_key", func(r Record, a []any) bool { return toString(r["name"]) == toString(a[1]) }},
		},
		func(a []any) Record {
			return Record{"code": a[0], "name": a[1], "capacity": nullableInt(a[2]), "building_id": toInt64(a[3])}
		},
	),

	p.SetStatementTimeout.SQL: func(t *Tables, a []any) result {
		return result{tag: "SELECT 1"}
	},
}

type fk struct {
	table      string
	arg        int
	constraint string
}

type unique struct {
	constraint string
	match      func(r Record, a []any) bool
}

func lookup(table string, match func(r Record, a []any) bool) handler {
	return func(t *Tables, a []any) result {
		r, ok := t.find(table, func(r Record) bool { return match(r, a) })
		if !ok {
			return result{}
		}
		return result{rows: [][]any{{r["id"]}}}
	}
}

func insert(table string, fks []fk, uniques []unique, build func(a []any) Record) handler {
	return func(t *Tables, a []any) result {
		for _, f := range fks {
			if !t.exists(f.table, a[f.arg]) {
				return result{err: &pgconn.PgError{
					Severity:       "ERROR",
					Code:           "23503",
					Message:        fmt.Sprintf("insert or update on table %q violates foreign key constraint %q", table, f.constraint),
					TableName:      table,
					ConstraintName: f.constraint,
				}}
			}
		}
		for _, u := range uniques {
			if _, taken := t.find(table, func(r Record) bool { return u.match(r, a) }); taken {
				return result{err: uniqueErr(u.constraint)}
			}
		}
		id := t.Insert(table, build(a))
		return result{rows: [][]any{{id}}, tag: "INSERT 0 1"}
	}
}

func link(table, left, right string, fks []fk) handler {
	return func(t *Tables, a []any) result {
		for _, f := range fks {
			if !t.exists(f.table, a[f.arg]) {
				return result{err: &pgconn.PgError{Severity: "ERROR", Code: "23503", TableName: table, ConstraintName: f.constraint}}
			}
		}
		l, r := toInt64(a[0]), toInt64(a[1])
		if _, ok := t.find(table, func(rec Record) bool {
			return toInt64(rec[left]) == l && toInt64(rec[right]) == r
		}); ok {
			return result{tag: "INSERT 0 0"}
		}
		t.Insert(table, Record{left: l, right: r})
		return result{tag: "INSERT 0 1"}
	}
}

func uniqueErr(constraint string) *pgconn.PgError {
	return &pgconn.PgError{
		Severity:       "ERROR",
		Code:           "23505",
		Message:        fmt.Sprintf("duplicate key value violates unique constraint %q", constraint),
		ConstraintName: constraint,
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case *string:
		if t == nil {
			return ""
		}
		return *t
	default:
		return fmt.Sprint(t)
	}
}

func nullableString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case *string:
		if t == nil {
			return "", false
		}
		return *t, true
	case string:
		return t, true
	default:
		return fmt.Sprint(t), true
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case *int64:
		if t == nil {
			return 0
		}
		return *t
	default:
		return 0
	}
}

func nullableInt(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case *int64:
		if t == nil {
			return nil
		}
		return *t
	default:
		return toInt64(t)
	}
}
