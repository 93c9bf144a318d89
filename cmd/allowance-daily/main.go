package main

import (
	"context"
	"flag"
	"os"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/evgeny-myasishchev/ledger.allowances/config"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/app"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/engine"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/lib-core-golang/diag"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/types"
)

var logger = diag.CreateLogger()

var cliArgs struct {
	once bool
}

func init() {
	flag.BoolVar(&cliArgs.once, "once", false, "Run a single pass and exit (cron friendly)")

	flag.Parse()
}

// nextRunAt is the next daily fire time at hour:minute in the now location
func nextRunAt(now time.Time, hour int, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func runOnce(appCfg *config.AppConfig, coordinator engine.BatchCoordinator) {
	ctx := diag.ContextWithRequestID(context.Background(), uuid.NewV4().String())
	if timeoutSeconds := appCfg.Batch.TimeoutSeconds.Value(); timeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
		defer cancel()
	}

	summary, err := coordinator.Run(ctx)
	if err != nil {
		logger.WithError(err).Error(ctx, "Disbursement run failed")
		return
	}
	logger.WithData(diag.MsgData{
		"processed": summary.Processed,
		"skipped":   summary.Skipped,
		"errored":   summary.Errored,
	}).Info(ctx, "Daily disbursement run complete (%v)", summary.Day)
}

func main() {
	appCfg := config.LoadAppConfig()

	diag.SetupLoggingSystem(func(setup diag.LoggingSystemSetup) {
		setup.SetLogLevel(appCfg.Log.Level.Value())
	})

	injector := app.BootstrapServices(appCfg)

	ctx := context.Background()

	if err := injector(func(coordinator engine.BatchCoordinator, nowSvc types.NowService) error {
		if cliArgs.once {
			runOnce(appCfg, coordinator)
			return nil
		}

		hour := appCfg.Daily.RunAtHour.Value()
		minute := appCfg.Daily.RunAtMinute.Value()
		for {
			now := nowSvc.Now()
			next := nextRunAt(now, hour, minute)
			logger.Info(ctx, "Next disbursement run at %v", next)
			time.Sleep(next.Sub(now))
			runOnce(appCfg, coordinator)
		}
	}); err != nil {
		logger.WithError(err).Error(ctx, "Daily runner failed")
		os.Exit(1)
	}
}
