package migrations

func init() {
	Register(Migration{
		Timestamp:   "20250902-181500",
		Description: "Revenue estimates on daily stats",
		Up: []string{
			`ALTER TABLE daily_stats ADD COLUMN avg_daily_price REAL`,
			`ALTER TABLE daily_stats ADD COLUMN estimated_revenue REAL`,
		},
	})
}
