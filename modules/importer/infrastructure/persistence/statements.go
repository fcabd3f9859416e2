package persistence

// Lookups order by id so that rows duplicated before uniqueness was enforced
// resolve to the same record on every run.
var (
	LookupSchool = Statement{
		Name: "lookup school",
		SQL:  `SELECT id FROM schools WHERE name = $1 AND site_id = $2 ORDER BY id LIMIT 1`,
	}
	InsertSchool = Statement{
		Name: "insert school",
		SQL:  `INSERT INTO schools (name, site_id, created_at) VALUES ($1, $2, now()) RETURNING id`,
	}

	LookupShift = Statement{
		Name: "lookup shift",
		SQL:  `SELECT id FROM shifts WHERE code = $1 ORDER BY id LIMIT 1`,
	}
	InsertShift = Statement{
		Name: "insert shift",
		SQL:  `INSERT INTO shifts (name, code) VALUES ($1, $2) RETURNING id`,
	}

	LookupMajor = Statement{
		Name: "lookup major",
		SQL:  `SELECT id FROM majors WHERE name = $1 AND school_id = $2 ORDER BY id LIMIT 1`,
	}
	InsertMajor = Statement{
		Name: "insert major",
		SQL:  `INSERT INTO majors (name, school_id) VALUES ($1, $2) RETURNING id`,
	}

	LookupStudyPlan = Statement{
		Name: "lookup study plan",
		SQL:  `SELECT id FROM study_plans WHERE lower(name) = lower($1) ORDER BY id LIMIT 1`,
	}
	InsertStudyPlan = Statement{
		Name: "insert study plan",
		SQL:  `INSERT INTO study_plans (name) VALUES ($1) RETURNING id`,
	}
	LinkMajorStudyPlan = Statement{
		Name: "link major study plan",
		SQL: `INSERT INTO major_study_plans (major_id, study_plan_id)
SELECT $1::bigint, $2::bigint
WHERE NOT EXISTS (SELECT 1 FROM major_study_plans WHERE major_id = $1::bigint AND study_plan_id = $2::bigint)`,
	}

	LookupSubject = Statement{
		Name: "lookup subject",
		SQL:  `SELECT id FROM subjects WHERE name = $1 AND major_id = $2 ORDER BY id LIMIT 1`,
	}
	InsertSubject = Statement{
		Name: "insert subject",
		SQL:  `INSERT INTO subjects (name, major_id) VALUES ($1, $2) RETURNING id`,
	}

	LookupSection = Statement{
		Name: "lookup section",
		SQL:  `SELECT id FROM sections WHERE name = $1 AND subject_id = $2 AND shift_id = $3 ORDER BY id LIMIT 1`,
	}
	InsertSection = Statement{
		Name: "insert section",
		SQL:  `INSERT INTO sections (name, subject_id, shift_id) VALUES ($1, $2, $3) RETURNING id`,
	}
	LookupSectionByName = Statement{
		Name: "lookup section by name",
		SQL:  `SELECT id FROM sections WHERE name = $1 ORDER BY id LIMIT 1`,
	}

	LookupRole = Statement{
		Name: "lookup role",
		SQL:  `SELECT id FROM roles WHERE lower(name) = lower($1) ORDER BY id LIMIT 1`,
	}

	LookupTeacher = Statement{
		Name: "lookup teacher",
		SQL:  `SELECT id, COALESCE(name, ''), COALESCE(email, '') FROM users WHERE external_id = $1 ORDER BY id LIMIT 1`,
	}
	LookupTeacherID = Statement{
		Name: "lookup teacher id",
		SQL:  `SELECT id FROM users WHERE external_id = $1 ORDER BY id LIMIT 1`,
	}
	InsertTeacher = Statement{
		Name: "insert teacher",
		SQL: `INSERT INTO users (external_id, name, email, password_hash, role_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now()) RETURNING id`,
	}
	UpdateUserFields = Statement{
		Name: "update user",
		SQL: `UPDATE users SET name = COALESCE($2::text, name), email = COALESCE($3::text, email), updated_at = now()
WHERE id = $1`,
	}
	LookupUserByEmail = Statement{
		Name: "lookup user by email",
		SQL:  `SELECT id FROM users WHERE lower(email) = lower($1) ORDER BY id LIMIT 1`,
	}
	InsertStudent = Statement{
		Name: "insert student",
		SQL: `INSERT INTO users (name, email, password_hash, role_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, now(), now()) RETURNING id`,
	}
	LinkUserSection = Statement{
		Name: "link user section",
		SQL: `INSERT INTO user_sections (user_id, section_id)
SELECT $1::bigint, $2::bigint
WHERE NOT EXISTS (SELECT 1 FROM user_sections WHERE user_id = $1::bigint AND section_id = $2::bigint)`,
	}

	LookupExam = Statement{
		Name: "lookup exam",
		SQL:  `SELECT id FROM exams WHERE name = $1 AND section_id = $2 ORDER BY id LIMIT 1`,
	}
	InsertExam = Statement{
		Name: "insert exam",
		SQL: `INSERT INTO exams (name, section_id, enrolled, import_run_id, imported_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
	}

	LookupBuilding = Statement{
		Name: "lookup building",
		SQL:  `SELECT id FROM buildings WHERE upper(code) = upper($1) ORDER BY id LIMIT 1`,
	}
	LookupRoom = Statement{
		Name: "lookup room",
		SQL:  `SELECT id FROM rooms WHERE lower(code) = lower($1) OR lower(name) = lower($2) ORDER BY id LIMIT 1`,
	}
	InsertRoom = Statement{
		Name: "insert room",
		SQL:  `INSERT INTO rooms (code, name, capacity, building_id) VALUES ($1, $2, $3, $4) RETURNING id`,
	}

	SetStatementTimeout = Statement{
		Name: "set statement timeout",
		SQL:  `SELECT set_config('statement_timeout', $1, true)`,
	}
)
