package clickhouse

// Config holds ClickHouse connection configuration
type Config struct {
	Host       string
	Port       int
	HTTPPort   int // Used by ExportToWriter; 8123 when zero
	Database   string
	Username   string
	Password   string
	Table      string
	StatsTable string
}
