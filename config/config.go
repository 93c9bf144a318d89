package config

import (
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/lib-core-golang/config"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/version"
)

var appEnv = config.NewAppEnv(version.AppName)
var configBuilder = config.NewBuilder(appEnv)

// Do not change vars below at runtime
var (
	logLevel = configBuilder.NewParam("log/logLevel").String()

	storageDriver = configBuilder.NewParam("storage/driver").
			WithEnvOverride("ALLOWANCES_STORAGE_DRIVER").String()
	storageDSN = configBuilder.NewParam("storage/data-source-name").
			WithEnvOverride("ALLOWANCES_STORAGE_DSN").String()

	scheduleTimezone = configBuilder.NewParam("schedule/timezone").String()

	batchWorkers        = configBuilder.NewParam("batch/workers").Int()
	batchTimeoutSeconds = configBuilder.NewParam("batch/timeoutSeconds").Int()

	serverPort = configBuilder.NewParam("server/port").
			WithEnvOverride("PORT").Int()

	dailyRunAtHour   = configBuilder.NewParam("daily/runAtHour").Int()
	dailyRunAtMinute = configBuilder.NewParam("daily/runAtMinute").Int()

	eventsBrokers = configBuilder.NewParam("events/brokers").
			WithEnvOverride("ALLOWANCES_EVENTS_BROKERS").String()
)

// Log represents logger specific options
type Log struct {
	Level config.StringVal
}

// Storage represents storage settings
type Storage struct {
	Driver config.StringVal
	DSN    config.StringVal
}

// Schedule represents disbursement schedule settings
type Schedule struct {
	// Timezone is the reference timezone all "today" decisions are made in
	Timezone config.StringVal
}

// Batch represents batch run settings
type Batch struct {
	Workers config.IntVal

	// TimeoutSeconds bounds a single run, 0 means no deadline
	TimeoutSeconds config.IntVal
}

// Server represents the on-demand http adapter settings
type Server struct {
	Port config.IntVal
}

// Daily represents the scheduled adapter settings
type Daily struct {
	RunAtHour   config.IntVal
	RunAtMinute config.IntVal
}

// Events represents events publishing settings
type Events struct {
	// Brokers is a comma separated kafka brokers list, empty disables publishing
	Brokers config.StringVal
}

// AppConfig is a toplevel config structure
type AppConfig struct {
	Log      Log
	Storage  Storage
	Schedule Schedule
	Batch    Batch
	Server   Server
	Daily    Daily
	Events   Events
}

// LoadAppConfig will load and initialize app config structure
func LoadAppConfig() *AppConfig {
	if err := configBuilder.LoadConfig(); err != nil {
		panic(err)
	}

	return &AppConfig{
		Log: Log{
			Level: logLevel,
		},
		Storage: Storage{
			Driver: storageDriver,
			DSN:    storageDSN,
		},
		Schedule: Schedule{
			Timezone: scheduleTimezone,
		},
		Batch: Batch{
			Workers:        batchWorkers,
			TimeoutSeconds: batchTimeoutSeconds,
		},
		Server: Server{
			Port: serverPort,
		},
		Daily: Daily{
			RunAtHour:   dailyRunAtHour,
			RunAtMinute: dailyRunAtMinute,
		},
		Events: Events{
			Brokers: eventsBrokers,
		},
	}
}
