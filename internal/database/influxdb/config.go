package influxdb

// Config holds InfluxDB connection configuration
type Config struct {
	URL         string
	Token       string
	Database    string
	Measurement string // can_frames when empty
}
