package migrations

func init() {
	Register(Migration{
		Timestamp:   "20250811-093000",
		Description: "Daily booking stats",
		Up: []string{
			// room_type '' is the all-room-types bucket. NOT NULL keeps
			// the unique index usable for upserts (SQLite treats NULLs
			// as distinct).
			`CREATE TABLE IF NOT EXISTS daily_stats (
				id TEXT PRIMARY KEY,
				station_id TEXT NOT NULL REFERENCES stations(id),
				date TEXT NOT NULL,
				room_type TEXT NOT NULL DEFAULT '',
				total_listings INTEGER NOT NULL DEFAULT 0,
				booked_count INTEGER NOT NULL DEFAULT 0,
				booking_rate REAL NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL,
				UNIQUE(station_id, date, room_type)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_daily_stats_station_date ON daily_stats(station_id, date)`,
		},
	})
}
