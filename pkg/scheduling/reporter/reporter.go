// Package reporter periodically logs worker pool and resource pool
// occupancy, and refreshes the pool gauges exported to Prometheus.
//
// The schedule is a cron expression, with an optional seconds field, or a
// descriptor such as "@every 30s":
//
//	r, err := reporter.New(reporter.Config{Schedule: "@every 15s", Logger: logger})
//	if err != nil {
//		return err
//	}
//	r.Watch(h.Pool())
//	r.AddProbe("orders_db", func() logrus.Fields {
//		s := conns.Stats()
//		return logrus.Fields{"in_use": s.InUse, "idle": s.Idle}
//	})
//	r.Start()
//	defer r.Stop()
package reporter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	bberrors "github.com/vnykmshr/blockbridge/pkg/common/errors"
	"github.com/vnykmshr/blockbridge/pkg/common/logging"
	"github.com/vnykmshr/blockbridge/pkg/scheduling/workerpool"
)

// DefaultSchedule reports every 30 seconds.
const DefaultSchedule = "@every 30s"

// Config configures a Reporter.
type Config struct {
	// Schedule is a cron expression or descriptor. Empty means
	// DefaultSchedule.
	Schedule string

	// Location evaluates Schedule. Nil means time.Local.
	Location *time.Location

	// Level is the level reports are logged at. The zero value
	// (logrus.PanicLevel) means Info.
	Level logrus.Level

	// Logger receives the reports. Nil uses a Warn-level default, which
	// drops Info reports; gauges are still refreshed.
	Logger *logrus.Logger
}

// Probe returns the fields to log for one watched resource.
type Probe func() logrus.Fields

// refresher is implemented by pools that export gauges, such as
// workerpool.MetricsPool.
type refresher interface {
	Refresh()
}

// Reporter runs a report on a cron schedule.
type Reporter struct {
	cron     *cron.Cron
	schedule cron.Schedule
	location *time.Location
	logger   *logrus.Logger
	level    logrus.Level

	mu      sync.Mutex
	pools   []workerpool.Pool
	probes  map[string]Probe
	entry   cron.EntryID
	started bool
	reports int64
}

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether expr parses.
func ValidateSchedule(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return bberrors.NewValidationError("reporter", "schedule", expr, err.Error()).
			WithHint(`use a cron expression such as "*/30 * * * * *" or a descriptor such as "@every 30s"`)
	}
	return nil
}

// New returns a stopped Reporter.
func New(config Config) (*Reporter, error) {
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}
	if err := ValidateSchedule(config.Schedule); err != nil {
		return nil, err
	}
	schedule, _ := parser.Parse(config.Schedule)

	if config.Location == nil {
		config.Location = time.Local
	}
	if config.Level == logrus.PanicLevel {
		config.Level = logrus.InfoLevel
	}
	logger := logging.OrDefault(config.Logger)

	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(config.Location),
		cron.WithLogger(cron.PrintfLogger(logger)),
		cron.WithChain(cron.Recover(cron.PrintfLogger(logger)), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	return &Reporter{
		cron:     c,
		schedule: schedule,
		location: config.Location,
		logger:   logger,
		level:    config.Level,
		probes:   make(map[string]Probe),
	}, nil
}

// Watch adds a worker pool to every report.
func (r *Reporter) Watch(pool workerpool.Pool) {
	if pool == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools = append(r.pools, pool)
}

// AddProbe adds a named probe, replacing any probe with the same name.
func (r *Reporter) AddProbe(name string, probe Probe) error {
	if name == "" {
		return fmt.Errorf("probe name cannot be empty")
	}
	if probe == nil {
		return fmt.Errorf("probe cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[name] = probe
	return nil
}

// Start schedules the report. Calling Start twice is a no-op.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.entry = r.cron.Schedule(r.schedule, cron.FuncJob(r.Report))
	r.started = true
	r.cron.Start()
}

// Stop unschedules the report. The returned context is done once a report
// in progress has finished.
func (r *Reporter) Stop() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		r.cron.Remove(r.entry)
		r.started = false
	}
	return r.cron.Stop()
}

// Next returns the time of the next scheduled report, zero when stopped.
func (r *Reporter) Next() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return time.Time{}
	}
	if next := r.cron.Entry(r.entry).Next; !next.IsZero() {
		return next
	}
	// The cron goroutine has not computed it yet.
	return r.schedule.Next(time.Now().In(r.location))
}

// Reports returns how many reports have run.
func (r *Reporter) Reports() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reports
}

// Report runs one report now.
func (r *Reporter) Report() {
	r.mu.Lock()
	pools := append([]workerpool.Pool(nil), r.pools...)
	names := make([]string, 0, len(r.probes))
	for name := range r.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	probes := make([]Probe, len(names))
	for i, name := range names {
		probes[i] = r.probes[name]
	}
	r.reports++
	r.mu.Unlock()

	for _, pool := range pools {
		if m, ok := pool.(refresher); ok {
			m.Refresh()
		}
		s := pool.Stats()
		r.logger.WithFields(logrus.Fields{
			"pool":      pool.Name(),
			"workers":   s.Workers,
			"active":    s.Active,
			"queued":    s.Queued,
			"submitted": s.Submitted,
			"rejected":  s.Rejected,
			"completed": s.Completed,
			"failed":    s.Failed,
			"panicked":  s.Panicked,
			"aborted":   s.Aborted,
		}).Log(r.level, "worker pool stats")
	}

	for i, probe := range probes {
		r.logger.WithField("resource", names[i]).WithFields(probe()).Log(r.level, "resource pool stats")
	}
}
