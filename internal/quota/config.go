package quota

import "time"

// Config bundles the quota tunables. It is passed to NewManager and never
// mutated afterwards.
type Config struct {
	// ReservationTTL is how long a reservation may stay reserved before the
	// sweep reclaims it.
	ReservationTTL time.Duration
	// MaxActiveReservations caps reserved rows per user and day.
	MaxActiveReservations int
	// RetentionDays is how many days of reservation history the sweep keeps.
	RetentionDays int
	// GlobalDailyLimit caps the day's consumed total across all users.
	// Zero disables the check.
	GlobalDailyLimit int
}

func DefaultConfig() Config {
	return Config{
		ReservationTTL:        600 * time.Second,
		MaxActiveReservations: 1,
		RetentionDays:         7,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ReservationTTL <= 0 {
		c.ReservationTTL = def.ReservationTTL
	}
	if c.MaxActiveReservations <= 0 {
		c.MaxActiveReservations = def.MaxActiveReservations
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = def.RetentionDays
	}
	if c.GlobalDailyLimit < 0 {
		c.GlobalDailyLimit = 0
	}
	return c
}
