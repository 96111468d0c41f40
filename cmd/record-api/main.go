package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/medicaldocumentflow/internal/api"
	"github.com/Lllllllleong/medicaldocumentflow/internal/app"
	"github.com/Lllllllleong/medicaldocumentflow/internal/config"
)

var (
	router  http.Handler
	once    sync.Once
	initErr error
)

func init() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	functions.HTTP("Records", serveRecords)
}

func main() {}

func setup(ctx context.Context) (http.Handler, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := config.SetupLogger(cfg)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return api.NewRouter(a.Records, logger), nil
}

func serveRecords(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		router, initErr = setup(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization.", "error", initErr)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	router.ServeHTTP(w, r)
}
