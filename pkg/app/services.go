package app

import (
	"database/sql"
	"strings"
	"time"

	"go.uber.org/dig"

	"github.com/evgeny-myasishchev/ledger.allowances/config"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/engine"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/events"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/events/kafka"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/store"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/types"
)

// Injector is a function that will inject desired services
// to a target function
type Injector func(function interface{}) error

// BootstrapServices setup di container with all app services
func BootstrapServices(appCfg *config.AppConfig) Injector {
	c := dig.New()

	c.Provide(func() (*sql.DB, error) {
		return sql.Open(appCfg.Storage.Driver.Value(), appCfg.Storage.DSN.Value())
	})

	c.Provide(func(db *sql.DB) (store.Storage, error) {
		return store.NewSQLStorage(store.WithSQLDb(db))
	})

	c.Provide(func() (types.NowService, error) {
		loc, err := time.LoadLocation(appCfg.Schedule.Timezone.Value())
		if err != nil {
			return nil, err
		}
		return types.NewNowService(loc), nil
	})

	c.Provide(func() events.Publisher {
		brokers := appCfg.Events.Brokers.Value()
		if brokers == "" {
			return events.NewNoopPublisher()
		}
		return kafka.NewPublisher(strings.Split(brokers, ","))
	})

	c.Provide(func(storage store.Storage, nowSvc types.NowService) engine.Disburser {
		return engine.NewDisburser(
			engine.WithDisburserStorage(storage),
			engine.WithDisburserNowService(nowSvc),
		)
	})

	c.Provide(func(
		storage store.Storage,
		disburser engine.Disburser,
		publisher events.Publisher,
		nowSvc types.NowService,
	) engine.BatchCoordinator {
		return engine.NewBatchCoordinator(
			engine.WithStorage(storage),
			engine.WithDisburser(disburser),
			engine.WithPublisher(publisher),
			engine.WithNowService(nowSvc),
			engine.WithWorkers(appCfg.Batch.Workers.Value()),
		)
	})

	return func(function interface{}) error {
		return c.Invoke(function)
	}
}
