package database

// RunMigrations creates the schema if it does not exist yet. Statements are
// idempotent so the server can run them on every boot.
func (d *Database) RunMigrations() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS live_ledgers (
			entity_id TEXT PRIMARY KEY,
			natural_key TEXT NOT NULL,
			parent_id TEXT,
			name TEXT,
			category TEXT,
			offered_by TEXT,
			locality TEXT,
			county TEXT,
			region TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			metrics TEXT,
			created_at TEXT,
			last_updated TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS timeline_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_id TEXT NOT NULL REFERENCES live_ledgers(entity_id) ON DELETE CASCADE,
			observed_at TEXT NOT NULL,
			price REAL NOT NULL,
			change_type TEXT NOT NULL,
			source TEXT,
			previous_price REAL,
			change_amount REAL,
			change_percentage REAL,
			is_significant INTEGER,
			context TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS archived_ledgers (
			entity_id TEXT PRIMARY KEY,
			natural_key TEXT NOT NULL,
			parent_id TEXT,
			name TEXT,
			category TEXT,
			offered_by TEXT,
			locality TEXT,
			county TEXT,
			region TEXT,
			status TEXT NOT NULL DEFAULT 'archived',
			metrics TEXT,
			created_at TEXT,
			last_updated TEXT,
			archived_at TEXT,
			archive_reason TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS archived_timeline_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_id TEXT NOT NULL REFERENCES archived_ledgers(entity_id) ON DELETE CASCADE,
			observed_at TEXT NOT NULL,
			price REAL NOT NULL,
			change_type TEXT NOT NULL,
			source TEXT,
			previous_price REAL,
			change_amount REAL,
			change_percentage REAL,
			is_significant INTEGER,
			context TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS regional_rollups (
			region_id TEXT PRIMARY KEY,
			locality TEXT,
			county TEXT,
			region TEXT,
			current_metrics TEXT,
			last_snapshot_date TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS regional_daily_averages (
			region_id TEXT NOT NULL,
			day TEXT NOT NULL,
			category TEXT NOT NULL,
			avg_price REAL,
			listing_count INTEGER NOT NULL,
			PRIMARY KEY (region_id, day, category)
		);`,
		`CREATE TABLE IF NOT EXISTS archived_parents (
			parent_id TEXT PRIMARY KEY,
			archived_at TEXT,
			reason TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_timeline_entries_entity
			ON timeline_entries(entity_id, observed_at);`,
		`CREATE INDEX IF NOT EXISTS idx_archived_timeline_entries_entity
			ON archived_timeline_entries(entity_id, observed_at);`,
		`CREATE INDEX IF NOT EXISTS idx_live_ledgers_parent
			ON live_ledgers(parent_id);`,
		`CREATE INDEX IF NOT EXISTS idx_live_ledgers_region
			ON live_ledgers(locality, county, region);`,
		`CREATE INDEX IF NOT EXISTS idx_daily_averages_day
			ON regional_daily_averages(region_id, day);`,
	}

	for _, stmt := range statements {
		if _, err := d.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
