package sqlstore

// Column types differ between the drivers: go-sqlite3 only scans TIMESTAMP
// declared columns into time.Time, while postgres should keep the offset.
var schemas = map[string][]string{
	driverPostgres: {
		`CREATE TABLE IF NOT EXISTS module_accesses (
			id             VARCHAR(36)  PRIMARY KEY,
			application_id VARCHAR(100) NOT NULL,
			user_id        VARCHAR(256) NOT NULL,
			module_name    VARCHAR(100) NOT NULL,
			module_url     TEXT         NOT NULL,
			access_type    INTEGER      NOT NULL,
			accessed_at    TIMESTAMPTZ  NOT NULL,
			duration_ms    BIGINT       NOT NULL DEFAULT 0,
			user_agent     TEXT,
			ip_address     VARCHAR(64),
			metadata       JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_module_accesses_app_module ON module_accesses (application_id, module_name, accessed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_module_accesses_app_user ON module_accesses (application_id, user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_module_accesses_accessed_at ON module_accesses (accessed_at)`,
		`CREATE TABLE IF NOT EXISTS modules (
			application_id VARCHAR(100) NOT NULL,
			name           VARCHAR(100) NOT NULL,
			display_name   VARCHAR(200) NOT NULL DEFAULT '',
			path           TEXT         NOT NULL DEFAULT '',
			description    TEXT         NOT NULL DEFAULT '',
			category       VARCHAR(100) NOT NULL DEFAULT '',
			is_active      BOOLEAN      NOT NULL DEFAULT TRUE,
			created_at     TIMESTAMPTZ  NOT NULL,
			updated_at     TIMESTAMPTZ  NOT NULL,
			PRIMARY KEY (application_id, name)
		)`,
	},
	driverSQLite: {
		`CREATE TABLE IF NOT EXISTS module_accesses (
			id             TEXT      PRIMARY KEY,
			application_id TEXT      NOT NULL,
			user_id        TEXT      NOT NULL,
			module_name    TEXT      NOT NULL,
			module_url     TEXT      NOT NULL,
			access_type    INTEGER   NOT NULL,
			accessed_at    TIMESTAMP NOT NULL,
			duration_ms    INTEGER   NOT NULL DEFAULT 0,
			user_agent     TEXT,
			ip_address     TEXT,
			metadata       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_module_accesses_app_module ON module_accesses (application_id, module_name, accessed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_module_accesses_app_user ON module_accesses (application_id, user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_module_accesses_accessed_at ON module_accesses (accessed_at)`,
		`CREATE TABLE IF NOT EXISTS modules (
			application_id TEXT      NOT NULL,
			name           TEXT      NOT NULL,
			display_name   TEXT      NOT NULL DEFAULT '',
			path           TEXT      NOT NULL DEFAULT '',
			description    TEXT      NOT NULL DEFAULT '',
			category       TEXT      NOT NULL DEFAULT '',
			is_active      BOOLEAN   NOT NULL DEFAULT 1,
			created_at     TIMESTAMP NOT NULL,
			updated_at     TIMESTAMP NOT NULL,
			PRIMARY KEY (application_id, name)
		)`,
	},
}
