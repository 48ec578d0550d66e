// File: internal/liveness/monitor.go
package liveness

import (
	"context"
	"fmt"
	"time"

	"quickfix_notify/internal/supervisor"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StateSource exposes the connection state the monitor inspects. It only ever
// reads snapshots; the supervisor stays the exclusive writer.
type StateSource interface {
	Snapshot() supervisor.Snapshot
}

// Refresher triggers the out-of-band reconciling reload.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Monitor is the polling safety net: while a session is active it checks the
// live channel periodically and, when the channel is down and data has gone
// stale, refreshes the store over plain request/response. It never touches
// the supervisor's own retry timers; the two recovery paths are independent
// by design.
type Monitor struct {
	source        StateSource
	refresher     Refresher
	logger        *zap.Logger
	schedule      string
	threshold     time.Duration
	cronScheduler *cron.Cron

	now func() time.Time // test seam
}

// NewMonitor creates a Monitor. schedule is a cron spec, e.g. "@every 10s";
// threshold is how long data may go without a successful fetch before the
// monitor steps in.
func NewMonitor(
	source StateSource,
	refresher Refresher,
	schedule string,
	threshold time.Duration,
	logger *zap.Logger,
) *Monitor {
	scheduler := cron.New(cron.WithLogger(NewCronLogger(logger.Named("cron"))))

	return &Monitor{
		source:        source,
		refresher:     refresher,
		logger:        logger.Named("LivenessMonitor"),
		schedule:      schedule,
		threshold:     threshold,
		cronScheduler: scheduler,
		now:           time.Now,
	}
}

// SetupAndStart schedules and starts the periodic check.
func (m *Monitor) SetupAndStart() error {
	if m.schedule == "" {
		m.logger.Warn("Liveness monitor schedule not defined (MONITOR_SCHEDULE). Polling fallback will not run.")
		return nil // Not a fatal error, just won't run
	}

	jobID, err := m.cronScheduler.AddFunc(m.schedule, m.tick)
	if err != nil {
		m.logger.Error("Failed to schedule liveness check", zap.String("spec", m.schedule), zap.Error(err))
		return err
	}

	m.logger.Info("Liveness monitor scheduled", zap.String("spec", m.schedule), zap.Any("jobID", jobID))
	m.cronScheduler.Start()
	return nil
}

// tick is one liveness check. The refresh fires at most once per tick, and
// only when the channel is not connected and the last successful fetch is
// older than the threshold.
func (m *Monitor) tick() {
	snap := m.source.Snapshot()
	if snap.Phase == supervisor.PhaseConnected {
		return
	}
	elapsed := m.now().Sub(snap.LastSuccessfulFetchAt)
	if elapsed <= m.threshold {
		return
	}

	m.logger.Info("Live channel unhealthy, refreshing over HTTP",
		zap.String("phase", snap.Phase.String()),
		zap.Duration("sinceLastFetch", elapsed),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := m.refresher.Refresh(ctx); err != nil {
		m.logger.Error("Fallback refresh failed", zap.Error(err))
	} else {
		m.logger.Info("Fallback refresh completed")
	}
}

// Stop gracefully stops the scheduler.
func (m *Monitor) Stop() {
	if m.cronScheduler != nil {
		m.logger.Info("Stopping liveness monitor...")
		stopCtx := m.cronScheduler.Stop()
		select {
		case <-stopCtx.Done():
			m.logger.Info("Liveness monitor stopped gracefully.")
		case <-time.After(10 * time.Second):
			m.logger.Warn("Liveness monitor stop timed out.")
		}
	}
}

// --- Cron Logger Adapter ---

// cronLogger adapts zap.Logger to cron.Logger interface.
type cronLogger struct {
	zl *zap.Logger
}

// NewCronLogger creates a new cronLogger.
func NewCronLogger(zl *zap.Logger) cron.Logger {
	return &cronLogger{zl: zl}
}

// Info logs routine messages from cron.
func (cl *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	cl.zl.Info(msg, cl.parseKeysAndValues(keysAndValues...)...)
}

// Error logs error messages from cron.
func (cl *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := cl.parseKeysAndValues(keysAndValues...)
	fields = append(fields, zap.Error(err))
	cl.zl.Error(msg, fields...)
}

func (cl *cronLogger) parseKeysAndValues(keysAndValues ...interface{}) []zap.Field {
	var fields []zap.Field
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			fields = append(fields, zap.Any(fmt.Sprintf("%v", keysAndValues[i]), keysAndValues[i+1]))
		} else {
			fields = append(fields, zap.Any(fmt.Sprintf("%v", keysAndValues[i]), "MISSING_VALUE"))
		}
	}
	return fields
}
