package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/medicaldocumentflow/internal/app"
	"github.com/Lllllllleong/medicaldocumentflow/internal/config"
	"github.com/Lllllllleong/medicaldocumentflow/internal/gcp"
	"github.com/Lllllllleong/medicaldocumentflow/internal/services"
)

var (
	intake  *services.IntakeFunction
	once    sync.Once
	initErr error
)

func init() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	functions.CloudEvent("ProcessDocument", processDocument)
}

func main() {}

func setup(ctx context.Context) (*services.IntakeFunction, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := config.SetupLogger(cfg)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if a.Storage == nil {
		return nil, fmt.Errorf("document intake requires PROJECT_ID for the storage client")
	}
	return services.NewIntakeFunction(a.Pipeline, gcp.ObjectDownloader{Client: a.Storage}, cfg.UploadDir, logger)
}

// processDocument handles storage "object finalized" events.
func processDocument(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		intake, initErr = setup(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization.", "error", initErr)
		return initErr
	}

	var obj services.ObjectEvent
	if err := json.Unmarshal(e.Data(), &obj); err != nil {
		slog.Error("Failed to unmarshal event data.", "error", err, "eventId", e.ID())
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	return intake.Process(ctx, obj)
}
