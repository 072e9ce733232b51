package store

// Config holds configuration for the Store.
type Config struct {
	// PageSize is the Limit sent with every Query and Scan round trip.
	// Default: 100
	// Max: 1000
	PageSize int32

	// CounterTableSuffix names the shared counters table, {env}_{suffix}.
	// Default: "Counters"
	CounterTableSuffix string

	// ScanSegments is the number of parallel scan segments used by Scan.
	// Results are concatenated in segment order.
	// Default: 1 (sequential scan)
	// Max: 64
	ScanSegments int
}

// DefaultConfig returns the defaults used by the link service.
func DefaultConfig() Config {
	return Config{
		PageSize:           100,
		CounterTableSuffix: "Counters",
		ScanSegments:       1,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.PageSize < 1 {
		c.PageSize = 100
	}
	if c.PageSize > 1000 {
		c.PageSize = 1000
	}
	if c.CounterTableSuffix == "" {
		c.CounterTableSuffix = "Counters"
	}
	if c.ScanSegments < 1 {
		c.ScanSegments = 1
	}
	if c.ScanSegments > 64 {
		c.ScanSegments = 64
	}
}
