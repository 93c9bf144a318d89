package main

import (
	"context"
	"flag"
	"os"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/shopspring/decimal"

	"github.com/evgeny-myasishchev/ledger.allowances/config"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/allowances"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/app"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/lib-core-golang/diag"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/store"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/types"
)

var logger = diag.CreateLogger()

var cliArgs struct {
	cmd string
}

func init() {
	flag.StringVar(&cliArgs.cmd, "cmd", "", "Command to run. Available commands: setup, seed")

	flag.Parse()
}

func showHelpAndExit() {
	flag.PrintDefaults()
	os.Exit(1)
}

func seed(ctx context.Context, storage store.Storage, nowSvc types.NowService) error {
	guardian := &store.GuardianDTO{ID: uuid.NewV4().String(), DisplayName: "Demo guardian"}
	if err := storage.SaveGuardian(ctx, guardian); err != nil {
		return err
	}

	today := nowSvc.Now().Weekday().String()
	accounts := []*store.AccountDTO{
		{
			ID:         uuid.NewV4().String(),
			GuardianID: guardian.ID,
			Schedule: &allowances.Schedule{
				WeeklyAmount: decimal.NewFromInt(50),
				DayOfWeek:    today,
				IsEnabled:    true,
			},
		},
		{
			ID:         uuid.NewV4().String(),
			GuardianID: guardian.ID,
			Schedule: &allowances.Schedule{
				WeeklyAmount: decimal.NewFromInt(25),
				DayOfWeek:    today,
				IsEnabled:    false,
			},
		},
	}
	for _, account := range accounts {
		if err := storage.SaveAccount(ctx, account); err != nil {
			return err
		}
		if err := storage.SaveWallet(ctx, &store.WalletDTO{
			ID:              uuid.NewV4().String(),
			AccountID:       account.ID,
			TotalBalance:    decimal.Zero,
			SpendingBalance: decimal.Zero,
			UpdatedAt:       time.Now(),
		}); err != nil {
			return err
		}
		logger.Info(ctx, "Seeded account %v", account.ID)
	}
	return nil
}

func main() {
	if cliArgs.cmd == "" {
		showHelpAndExit()
	}
	ctx := context.Background()

	appCfg := config.LoadAppConfig()

	diag.SetupLoggingSystem(func(setup diag.LoggingSystemSetup) {
		setup.SetLogLevel(appCfg.Log.Level.Value())
	})

	injector := app.BootstrapServices(appCfg)

	switch cliArgs.cmd {
	case "setup":
		if err := injector(func(storage store.Storage) error {
			return storage.Setup(ctx)
		}); err != nil {
			panic(err)
		}

	case "seed":
		if err := injector(func(storage store.Storage, nowSvc types.NowService) error {
			if err := storage.Setup(ctx); err != nil {
				return err
			}
			return seed(ctx, storage, nowSvc)
		}); err != nil {
			panic(err)
		}

	default:
		showHelpAndExit()
	}
}
