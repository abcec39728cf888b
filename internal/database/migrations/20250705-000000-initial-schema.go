package migrations

func init() {
	Register(Migration{
		Timestamp:   "20250705-000000",
		Description: "Initial schema",
		Up: []string{
			// Subway stations - crawl targets, seeded once at init
			`CREATE TABLE IF NOT EXISTS stations (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				line TEXT NOT NULL,
				district TEXT,
				latitude REAL NOT NULL,
				longitude REAL NOT NULL,
				priority INTEGER NOT NULL DEFAULT 2,
				created_at TEXT NOT NULL,
				UNIQUE(name, line)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_stations_priority ON stations(priority)`,

			// Listings - one row per upstream listing, refreshed by search
			`CREATE TABLE IF NOT EXISTS listings (
				id TEXT PRIMARY KEY,
				upstream_id TEXT UNIQUE NOT NULL,
				name TEXT,
				host_id TEXT,
				room_type TEXT,
				latitude REAL,
				longitude REAL,
				nearest_station_id TEXT REFERENCES stations(id),
				bedrooms INTEGER,
				bathrooms REAL,
				max_guests INTEGER,
				base_price REAL,
				rating REAL,
				review_count INTEGER,
				first_seen TEXT NOT NULL,
				last_seen TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_listings_nearest_station ON listings(nearest_station_id)`,
			`CREATE INDEX IF NOT EXISTS idx_listings_room_type ON listings(room_type)`,

			// Search snapshots - per-station market aggregates per crawl
			`CREATE TABLE IF NOT EXISTS search_snapshots (
				id TEXT PRIMARY KEY,
				station_id TEXT NOT NULL REFERENCES stations(id),
				crawled_at TEXT NOT NULL,
				total_listings INTEGER NOT NULL DEFAULT 0,
				avg_price REAL,
				min_price REAL,
				max_price REAL,
				median_price REAL,
				available_count INTEGER NOT NULL DEFAULT 0,
				checkin_date TEXT,
				checkout_date TEXT,
				content_digest TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_search_snapshots_station_crawled ON search_snapshots(station_id, crawled_at)`,

			// Calendar snapshots - per-listing per-date availability observations
			`CREATE TABLE IF NOT EXISTS calendar_snapshots (
				id TEXT PRIMARY KEY,
				listing_id TEXT NOT NULL REFERENCES listings(id),
				crawled_at TEXT NOT NULL,
				date TEXT NOT NULL,
				available INTEGER NOT NULL,
				price REAL,
				min_nights INTEGER
			)`,
			`CREATE INDEX IF NOT EXISTS idx_calendar_snapshots_listing_date ON calendar_snapshots(listing_id, date)`,

			// Crawl logs - one row per job run, written when the job ends
			`CREATE TABLE IF NOT EXISTS crawl_logs (
				id TEXT PRIMARY KEY,
				job_type TEXT NOT NULL,
				started_at TEXT NOT NULL,
				finished_at TEXT,
				status TEXT NOT NULL,
				total_requests INTEGER NOT NULL DEFAULT 0,
				successful_requests INTEGER NOT NULL DEFAULT 0,
				failed_requests INTEGER NOT NULL DEFAULT 0,
				blocked_requests INTEGER NOT NULL DEFAULT 0,
				error_message TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_crawl_logs_type_started ON crawl_logs(job_type, started_at)`,
		},
	})
}
