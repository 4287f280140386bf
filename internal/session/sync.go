package session

import "context"

// syncCombined is best-effort; failures are logged only.
func (o *Orchestrator) syncCombined(ctx context.Context, reason string) {
	if o.deps.Sync == nil {
		return
	}
	sctx, cancel := o.opCtx(ctx)
	defer cancel()
	res, err := o.deps.Sync.SyncCombined(sctx, o.opts.SyncLookback)
	if err != nil {
		o.log.Warn().Err(err).Str("reason", reason).Msg("call sync failed, continuing")
		return
	}
	o.log.Info().Str("reason", reason).Int("calls", len(res.Calls)).Int("messages", res.TotalMessages).Msg("calls synced")
}

// syncEnded skips when another ended-call sync is still running.
func (o *Orchestrator) syncEnded(ctx context.Context, reason string) {
	if o.deps.Sync == nil {
		return
	}
	if !o.syncRunning.CompareAndSwap(false, true) {
		o.log.Debug().Str("reason", reason).Msg("ended-call sync already running")
		return
	}
	defer o.syncRunning.Store(false)

	sctx, cancel := o.opCtx(ctx)
	defer cancel()
	res, err := o.deps.Sync.SyncEnded(sctx, o.opts.SyncLookback)
	if err != nil {
		o.log.Warn().Err(err).Str("reason", reason).Msg("ended-call sync failed")
		return
	}
	o.log.Info().Str("reason", reason).Int("calls", len(res.Calls)).Int("messages", res.TotalMessages).Msg("ended calls synced")
}

func (o *Orchestrator) testConnections(ctx context.Context) {
	if o.deps.Sync == nil {
		return
	}
	cctx, cancel := o.opCtx(ctx)
	defer cancel()
	r := o.deps.Sync.TestConnections(cctx)
	o.log.Info().
		Bool("store", r.Store.Connected).Str("store_error", r.Store.Error).
		Bool("remote", r.Remote.Connected).Str("remote_error", r.Remote.Error).
		Msg("connection test")
}
