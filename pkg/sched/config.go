package sched

// Config holds the tunables from the scheduler's external configuration
// surface. Zero-value fields are replaced by DefaultConfig's values by
// NewScheduler.
type Config struct {
	// HZ is the simulated timer frequency. RRTimeSlice and
	// TSRoundSliceBase both derive from it.
	HZ int

	// CPUCount is the number of simulated CPUs to bring up.
	CPUCount int

	// RTPrioMax is the highest real-time priority (inclusive).
	RTPrioMax int

	// TSPrioMax is the highest time-sharing priority (inclusive).
	TSPrioMax int

	// MaxMigrations caps threads pulled per balancer pass.
	MaxMigrations int

	// IdleBalanceTicksDivisor yields IdleBalanceTicks = HZ / divisor.
	IdleBalanceTicksDivisor int

	// MaxThreads caps concurrently live threads, simulating the fixed-size
	// thread_cache of spec §6; 0 means unlimited. Create returns
	// ErrOutOfMemory once the cap is reached.
	MaxThreads int
}

// DefaultConfig mirrors the values named in the scheduler's constant table.
func DefaultConfig() Config {
	return Config{
		HZ:                      1000,
		CPUCount:                4,
		RTPrioMax:               31,
		TSPrioMax:               39,
		MaxMigrations:           16,
		IdleBalanceTicksDivisor: 2,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.HZ <= 0 {
		c.HZ = d.HZ
	}
	if c.CPUCount <= 0 {
		c.CPUCount = d.CPUCount
	}
	if c.RTPrioMax <= 0 {
		c.RTPrioMax = d.RTPrioMax
	}
	if c.TSPrioMax <= 0 {
		c.TSPrioMax = d.TSPrioMax
	}
	if c.MaxMigrations <= 0 {
		c.MaxMigrations = d.MaxMigrations
	}
	if c.IdleBalanceTicksDivisor <= 0 {
		c.IdleBalanceTicksDivisor = d.IdleBalanceTicksDivisor
	}
}

// RRTimeSlice is the round-robin quantum, in ticks.
func (c Config) RRTimeSlice() int { return c.HZ / 10 }

// TSRoundSliceBase is the per-priority-unit TS weight, in ticks.
func (c Config) TSRoundSliceBase() uint64 { return uint64(c.HZ / 10) }

// IdleBalanceTicks is how often an idle CPU wakes its balancer.
func (c Config) IdleBalanceTicks() int32 { return int32(c.HZ / c.IdleBalanceTicksDivisor) }

// tsInitialRound seeds ts_round with (unsigned)-10, so wrap-around is
// exercised early in any run long enough to matter (spec boundary B1).
const tsInitialRound uint32 = ^uint32(9)
