// Package jobs runs periodic background work on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/openclapp/openclapp/internal/metrics"
	"github.com/openclapp/openclapp/pkg/schema"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// StatsSource yields the current aggregate.
type StatsSource interface {
	CurrentStats(ctx context.Context) (*schema.Stats, error)
}

// Scheduler wraps a cron runner. Jobs never overlap with themselves.
type Scheduler struct {
	cron *cron.Cron
	log  logrus.FieldLogger
}

// New creates an idle scheduler.
func New(log logrus.FieldLogger) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log}))),
		log:  log,
	}
}

// AddStatsRefresh publishes the stats gauges on spec (standard cron syntax
// or descriptors such as "@every 30s").
func (s *Scheduler) AddStatsRefresh(spec string, src StatsSource) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := RefreshStats(ctx, src); err != nil {
			s.log.WithError(err).Warn("stats refresh failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule stats refresh %q: %w", spec, err)
	}
	return nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// RefreshStats computes the current aggregate and publishes it as gauges.
func RefreshStats(ctx context.Context, src StatsSource) error {
	st, err := src.CurrentStats(ctx)
	if err != nil {
		return err
	}
	metrics.SetCohort("all", st.TotalAgents, st.ClappingNow, st.LifetimePct)
	metrics.SetCohort("verified", st.Verified.Agents, st.Verified.Clapping, st.Verified.LifetimePct)
	metrics.SetCohort("unverified", st.Unverified.Agents, st.Unverified.Clapping, st.Unverified.LifetimePct)
	return nil
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	log logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
