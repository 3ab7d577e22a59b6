package store

// Config holds configuration for a Table.
type Config struct {
	// IDField is the partition key attribute of the table.
	// Default: "id"
	IDField string

	// SoftDelete marks deleted documents with a TTL instead of removing them.
	// Reads filter out documents whose TTL has passed.
	// Default: false
	SoftDelete bool

	// Timestamps stamps created_at, updated_at and version on writes.
	// Default: true
	Timestamps bool

	// RateLimit caps store calls per second (one call per page for queries and scans).
	// Default: 0 (unlimited)
	RateLimit float64

	// RateBurst is the burst size of the rate limiter.
	// Default: 1 when RateLimit is set
	RateBurst int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		IDField:    "id",
		Timestamps: true,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.IDField == "" {
		c.IDField = "id"
	}
	if c.RateLimit < 0 {
		c.RateLimit = 0
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		c.RateBurst = 1
	}
}
