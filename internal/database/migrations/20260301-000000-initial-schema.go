package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260301-000000",
		Description: "Initial supasaasy schema: entities, sync state, jobs, tasks, webhook logs",
		Up: []string{
			// Canonical entity table. The triple is the idempotency key;
			// every write path funnels through upsert-on-conflict against
			// the unique index.
			`CREATE TABLE IF NOT EXISTS entities (
				id TEXT PRIMARY KEY,
				app_key TEXT NOT NULL,
				collection_key TEXT NOT NULL,
				external_id TEXT NOT NULL,
				api_version TEXT,
				raw_payload TEXT NOT NULL,
				archived_at TEXT,
				deleted_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				UNIQUE(app_key, collection_key, external_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_entities_app_key ON entities(app_key)`,
			`CREATE INDEX IF NOT EXISTS idx_entities_collection_key ON entities(collection_key)`,
			`CREATE INDEX IF NOT EXISTS idx_entities_external_id ON entities(external_id)`,
			`CREATE INDEX IF NOT EXISTS idx_entities_app_collection ON entities(app_key, collection_key)`,
			`CREATE INDEX IF NOT EXISTS idx_entities_updated_at ON entities(updated_at)`,

			// Per-collection sync watermark; written only on success.
			`CREATE TABLE IF NOT EXISTS sync_state (
				app_key TEXT NOT NULL,
				collection_key TEXT NOT NULL,
				last_synced_at TEXT NOT NULL,
				last_success_at TEXT,
				PRIMARY KEY (app_key, collection_key)
			)`,

			// Durable sync jobs and their per-resource tasks.
			`CREATE TABLE IF NOT EXISTS sync_jobs (
				id TEXT PRIMARY KEY,
				app_key TEXT NOT NULL,
				mode TEXT NOT NULL,
				resource_types TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'queued',
				created_count INTEGER NOT NULL DEFAULT 0,
				updated_count INTEGER NOT NULL DEFAULT 0,
				deleted_count INTEGER NOT NULL DEFAULT 0,
				error_count INTEGER NOT NULL DEFAULT 0,
				error_messages TEXT,
				created_at TEXT NOT NULL,
				started_at TEXT,
				finished_at TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_jobs_app_key ON sync_jobs(app_key)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_jobs_status ON sync_jobs(status)`,

			`CREATE TABLE IF NOT EXISTS sync_job_tasks (
				id TEXT PRIMARY KEY,
				job_id TEXT NOT NULL,
				resource_type TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'queued',
				created_count INTEGER NOT NULL DEFAULT 0,
				updated_count INTEGER NOT NULL DEFAULT 0,
				deleted_count INTEGER NOT NULL DEFAULT 0,
				error_count INTEGER NOT NULL DEFAULT 0,
				error_messages TEXT,
				cursor TEXT,
				created_at TEXT NOT NULL,
				started_at TEXT,
				finished_at TEXT,
				FOREIGN KEY (job_id) REFERENCES sync_jobs(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_job_tasks_job_id ON sync_job_tasks(job_id)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_job_tasks_status ON sync_job_tasks(status, created_at)`,

			// Append-only webhook request/response log.
			`CREATE TABLE IF NOT EXISTS webhook_logs (
				id TEXT PRIMARY KEY,
				app_key TEXT NOT NULL,
				request_method TEXT NOT NULL,
				request_path TEXT NOT NULL,
				request_headers TEXT,
				request_body TEXT,
				response_status INTEGER NOT NULL,
				response_body TEXT,
				error_message TEXT,
				processing_duration_ms INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_webhook_logs_app_key ON webhook_logs(app_key)`,
			`CREATE INDEX IF NOT EXISTS idx_webhook_logs_created_at ON webhook_logs(created_at)`,
		},
	})
}
