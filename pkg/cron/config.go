package cron

import (
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/petrijr/bgwork/pkg/api"
)

const DefaultTimeout = 33 * time.Minute

// Config describes a cron service.
type Config struct {
	// Expression is the cron expression. Ignored when Schedule is set.
	Expression string

	// IncludingSeconds switches Expression to the six-field format.
	IncludingSeconds bool

	// WaitForCompletion makes the service finish a run before scheduling
	// the next one.
	WaitForCompletion bool

	// Timeout bounds a single run.
	Timeout time.Duration

	// Location is the time zone the expression is evaluated in.
	// Nil means time.Local.
	Location *time.Location

	// Schedule overrides Expression with a prebuilt schedule.
	Schedule robfig.Schedule
}

// DefaultConfig returns a config for expr that waits for completion and
// times runs out after 33 minutes.
func DefaultConfig(expr string) Config {
	return Config{
		Expression:        expr,
		WaitForCompletion: true,
		Timeout:           DefaultTimeout,
	}
}

// Validate checks the config and parses the expression.
func (c Config) Validate() error {
	_, err := c.schedule()
	return err
}

func (c Config) schedule() (robfig.Schedule, error) {
	if c.Timeout <= 0 {
		return nil, api.NewConfigError("cron", "Timeout", "must be > 0")
	}
	if c.Schedule != nil {
		return c.Schedule, nil
	}
	if c.Expression == "" {
		return nil, api.NewConfigError("cron", "Expression", "must not be empty")
	}
	sched, err := Parse(c.Expression, c.IncludingSeconds)
	if err != nil {
		return nil, api.NewConfigError("cron", "Expression", err.Error())
	}
	return sched, nil
}

var (
	standardParser = robfig.NewParser(
		robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor,
	)
	secondsParser = robfig.NewParser(
		robfig.Second | robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor,
	)
)

// Parse parses a five-field expression, or a six-field one with a leading
// seconds field when includingSeconds is true.
func Parse(expr string, includingSeconds bool) (robfig.Schedule, error) {
	if includingSeconds {
		return secondsParser.Parse(expr)
	}
	return standardParser.Parse(expr)
}
