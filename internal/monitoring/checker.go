package monitoring

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sells-group/geoenrich/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker watches the run history of a long-lived server. On every tick it
// summarizes the lookback window and alerts on a run failure rate above
// threshold. An alert type fires once per episode and re-arms after a tick
// in which it no longer triggers.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	clock     clockwork.Clock

	active map[AlertType]bool
}

// NewChecker creates a run history checker. A nil clock means the real clock.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig, clock clockwork.Clock) *Checker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		clock:     clock,
		active:    make(map[AlertType]bool),
	}
}

// Run checks the run history every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	log := zap.L().With(zap.String("component", "monitoring.runs"))
	log.Info("watching run history",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Float64("failure_rate_threshold", c.cfg.FailureRateThreshold),
	)

	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("run history watch stopped")
			return
		case <-ticker.Chan():
			c.check(ctx, log)
		}
	}
}

// check evaluates one window and returns the number of alerts delivered.
func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: collect run history", zap.Error(err))
		return 0
	}

	log.Debug("monitoring: run window",
		zap.Int("runs", snap.RunsTotal),
		zap.Int("failed", snap.RunsFailed),
		zap.Int("running", snap.RunsRunning),
		zap.Int("rows", snap.RowsProcessed),
		zap.Int("row_errors", snap.RowErrors),
		zap.Float64("coordinate_rate", snap.CoordinateRate),
	)

	triggered := make(map[AlertType]bool)
	var fresh []Alert
	for _, alert := range c.alerter.Evaluate(snap) {
		triggered[alert.Type] = true
		if !c.active[alert.Type] {
			fresh = append(fresh, alert)
		}
	}
	for typ := range c.active {
		if !triggered[typ] {
			log.Info("monitoring: alert cleared", zap.String("type", string(typ)))
		}
	}
	c.active = triggered

	if len(fresh) == 0 {
		return 0
	}
	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: run history alerts",
		zap.Int("alerts_triggered", len(fresh)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}
