package bootstrap

import (
	"litigation-backend/internal/scheduler"
	"litigation-backend/internal/shared/telemetry"
)

// Scheduler registers the background jobs: the quote retry sweep and token cache pruning.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	log := telemetry.Component("scheduler")
	s := scheduler.New(log)
	if spec := a.Config.RetrySweepSchedule; spec != "" {
		if err := s.AddJob(spec, &scheduler.RetrySweepJob{
			Quotes: a.Quotes,
			Window: a.Config.RetrySweepWindow,
			Limit:  a.Config.RetrySweepLimit,
			Log:    log,
		}); err != nil {
			return nil, err
		}
	}
	if spec := a.Config.TokenPruneSchedule; spec != "" {
		if err := s.AddJob(spec, &scheduler.TokenPruneJob{Cache: a.TokenCache, Log: log}); err != nil {
			return nil, err
		}
	}
	return s, nil
}
