package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/evgeny-myasishchev/ledger.allowances/config"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/app"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/engine"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/lib-core-golang/diag"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/lib-core-golang/router"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/version"
)

var logger = diag.CreateLogger()

type runResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Processed int    `json:"processed"`
	Errors    int    `json:"errors"`
	Day       string `json:"day"`
}

type runFailureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func runContext(parent context.Context, appCfg *config.AppConfig) (context.Context, context.CancelFunc) {
	timeoutSeconds := appCfg.Batch.TimeoutSeconds.Value()
	if timeoutSeconds > 0 {
		return context.WithTimeout(parent, time.Duration(timeoutSeconds)*time.Second)
	}
	return context.WithCancel(parent)
}

func setupRoutes(r router.Router, appCfg *config.AppConfig, coordinator engine.BatchCoordinator) {
	r.Use(router.MiddlewareFunc(diag.NewRequestIDMiddleware()))
	r.Use(router.MiddlewareFunc(diag.NewLogRequestsMiddleware()))

	r.Handle("GET", "/v1/healthcheck/ping", router.ToolkitHandlerFunc(
		func(w http.ResponseWriter, req *http.Request, h router.HandlerToolkit) error {
			return h.WriteJSON(map[string]string{
				"message": "pong",
				"version": version.Version,
			})
		}))

	r.Handle("POST", "/v1/disbursements/run", router.ToolkitHandlerFunc(
		func(w http.ResponseWriter, req *http.Request, h router.HandlerToolkit) error {
			ctx, cancel := runContext(req.Context(), appCfg)
			defer cancel()

			summary, err := coordinator.Run(ctx)
			if err != nil {
				logger.WithError(err).Error(ctx, "Disbursement run failed")
				return h.WriteJSON(
					runFailureResponse{Success: false, Error: err.Error()},
					h.WithStatus(http.StatusInternalServerError),
				)
			}
			return h.WriteJSON(runResponse{
				Success: true,
				Message: fmt.Sprintf("Disbursement run complete: %v processed, %v skipped, %v errored",
					summary.Processed, summary.Skipped, summary.Errored),
				Processed: summary.Processed,
				Errors:    summary.Errored,
				Day:       summary.Day,
			})
		}))
}

func main() {
	appCfg := config.LoadAppConfig()

	diag.SetupLoggingSystem(func(setup diag.LoggingSystemSetup) {
		setup.SetLogLevel(appCfg.Log.Level.Value())
	})

	injector := app.BootstrapServices(appCfg)

	ctx := context.Background()

	if err := injector(func(coordinator engine.BatchCoordinator) error {
		port := appCfg.Server.Port.Value()
		logger.Info(ctx, "Starting server on port %v", port)
		return router.StartServer(port, func(r router.Router) {
			setupRoutes(r, appCfg, coordinator)
		})
	}); err != nil {
		logger.WithError(err).Error(ctx, "Server failed")
		os.Exit(1)
	}
}
