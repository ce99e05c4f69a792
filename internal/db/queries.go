package db

const (
	CreateMigrationsTable = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`

	ListMigrations = `SELECT version FROM schema_migrations`

	RecordMigration = `INSERT INTO schema_migrations (version) VALUES (?)`
)

const (
	InsertRun = `
		INSERT INTO dispatch_runs (kind, order_id, product_id, copies, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	FinishRun = `
		UPDATE dispatch_runs SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ?
	`

	GetRunByID = `
		SELECT id, kind, order_id, product_id, copies, status, error_message, started_at, completed_at
		FROM dispatch_runs WHERE id = ?
	`

	ListRuns = `
		SELECT id, kind, order_id, product_id, copies, status, error_message, started_at, completed_at
		FROM dispatch_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	ListRunsByStatus = `
		SELECT id, kind, order_id, product_id, copies, status, error_message, started_at, completed_at
		FROM dispatch_runs WHERE status = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	CountRunsByStatus = `SELECT status, COUNT(*) FROM dispatch_runs GROUP BY status`
)

const (
	InsertSubmission = `
		INSERT INTO print_submissions (run_id, copy_index, serial, printer, job_id, status, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	ListSubmissionsByRun = `
		SELECT id, run_id, copy_index, serial, printer, job_id, status, error_message, created_at
		FROM print_submissions WHERE run_id = ?
		ORDER BY copy_index ASC, id ASC
	`
)

const (
	IncrementPrintCounter = `
		INSERT INTO print_counters (printer, date, count)
		VALUES (?, ?, ?)
		ON CONFLICT(printer, date) DO UPDATE SET count = count + excluded.count
	`

	ListPrintCounters = `
		SELECT printer, date, count FROM print_counters
		WHERE date >= ?
		ORDER BY date DESC, printer ASC
	`
)
