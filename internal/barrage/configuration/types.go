package configuration

import (
	"time"

	"github.com/barrageproject/barrage/internal/common/database"
)

type BarrageConfiguration struct {
	// Metrics configuration
	MetricsPort uint16
	// Type of database used - must be either 'postgres' or 'memory'
	DatabaseType string
	// Configuration details for using a Postgres database; this field is
	// ignored if the DatabaseType above is not 'postgres'
	Postgres database.PostgresConfig
	// NATS Streaming configuration
	Nats NatsConfig
	// Plan-derived submission limits
	Limits LimitsConfig
}

type NatsConfig struct {
	// Comma separated list of NATS server URLs
	Url string `validate:"required"`
	// NATS Streaming cluster id
	ClusterID string `validate:"required"`
	// Client id used when connecting; must be unique per process
	ClientID string `validate:"required"`
	// Queue group name shared by control plane instances
	QueueGroup string
	// Channel the control plane publishes dispatch messages on
	DispatchChannel string `validate:"required"`
	// Channel workers publish final results on
	ResultsChannel string `validate:"required"`
	// Channel workers publish streaming metrics on
	MetricsChannel string `validate:"required"`
	// Time the broker waits for an ack before redelivering a message
	AckWait time.Duration
	// Time to wait between connection attempts at startup
	ConnectionBackoff time.Duration
	// If true, failure to connect to the broker at startup is fatal.
	// If false, the service starts with a no-op publisher and warns on
	// every publish until restarted.
	Required bool
}

// PlanLimits bounds what a single submission may ask for. Zero values fall
// back to the defaults.
type PlanLimits struct {
	MaxRequestsPerSecond int
	MaxDurationSeconds   int
	MaxConcurrentUsers   int
}

// LimitsConfig carries the default submission bounds plus optional per-plan
// overrides keyed by plan name. Thresholds are deployment configuration, not
// business rules baked into code.
type LimitsConfig struct {
	// Bounds applied to owners without a plan override. Zero values mean
	// unbounded.
	Default PlanLimits
	Plans   map[string]PlanLimits
	// Maps owner ids onto plan names for the static plan resolver. Owners
	// not listed here are on the default plan.
	OwnerPlans map[string]string
}

// ForPlan resolves the effective limits for a plan name, filling in defaults
// for any unset bound.
func (c LimitsConfig) ForPlan(plan string) PlanLimits {
	limits := c.Default
	override, ok := c.Plans[plan]
	if !ok {
		return limits
	}
	if override.MaxRequestsPerSecond > 0 {
		limits.MaxRequestsPerSecond = override.MaxRequestsPerSecond
	}
	if override.MaxDurationSeconds > 0 {
		limits.MaxDurationSeconds = override.MaxDurationSeconds
	}
	if override.MaxConcurrentUsers > 0 {
		limits.MaxConcurrentUsers = override.MaxConcurrentUsers
	}
	return limits
}
