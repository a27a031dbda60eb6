package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yllada/vpn-licensing/common"
	"github.com/yllada/vpn-licensing/notify"
)

// syncer is implemented by gateways that can pull storefront updates.
type syncer interface {
	Sync(ctx context.Context) error
}

// RunDaemon keeps entitlements current until ctx is cancelled: it consumes
// storefront transaction updates, reviews purchases at start and on the
// configured schedule, serves metrics and shows revocation notifications.
func (a *App) RunDaemon(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.Config.ShowNotifications {
		if n, err := notify.New(); err != nil {
			common.LogWarn("Notify: desktop notifications disabled: %v", err)
		} else {
			defer n.Close()
			defer a.Engine.Subscribe(notify.Observer(n))()
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	if a.Purchases != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Purchases.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				common.LogError("Storefront: transaction loop stopped: %v", err)
			}
		}()
	}

	var srv *http.Server
	if addr := a.Config.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.Metrics.Handler())
		srv = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			common.LogInfo("Metrics: listening on %s", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	logger := cronLogger{log: common.GetLogger()}
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(logger)), cron.WithLogger(logger))
	if _, err := scheduler.AddFunc(a.Config.ReviewSchedule, func() { a.review(ctx) }); err != nil {
		return fmt.Errorf("invalid review schedule %q: %w", a.Config.ReviewSchedule, err)
	}

	a.review(ctx)
	scheduler.Start()
	common.LogInfo("Daemon: reviewing purchases %s", a.Config.ReviewSchedule)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	cancel()
	stopped := scheduler.Stop()
	shutdownCtx, stop := context.WithTimeout(context.Background(), common.ShutdownTimeout)
	defer stop()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			common.LogWarn("Metrics: shutdown: %v", err)
		}
	}
	select {
	case <-stopped.Done():
	case <-shutdownCtx.Done():
		common.LogWarn("Daemon: review still running at shutdown")
	}
	wg.Wait()
	return runErr
}

// review pulls storefront updates when possible, then runs a review pass.
func (a *App) review(ctx context.Context) {
	if s, ok := a.gateway.(syncer); ok {
		if err := s.Sync(ctx); err != nil {
			common.LogWarn("Storefront: sync failed: %v", err)
		}
	}
	res, err := a.Engine.ReviewPurchases(ctx)
	if err != nil {
		common.LogError("Entitlements: review failed: %v", err)
		return
	}
	common.LogDebug("Entitlements: review done, %d revocation(s)", len(res.Revocations))
}

// cronLogger routes scheduler messages to the application log.
type cronLogger struct {
	log common.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("Cron: %s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("Cron: %s: %v %v", msg, err, keysAndValues)
}
