package steps

import (
	"log/slog"
	"net/http"

	"github.com/rendis/autoflow/internal/ai"
	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/store"
)

// Deps carries the collaborators the built-in handlers need. Nil stores
// make the handlers that need them fail at execution time.
type Deps struct {
	Engines       *expressions.Engines
	Files         FileConfig
	HTTP          HTTPConfig
	Script        ScriptConfig
	Catalog       store.FileCatalog
	Records       store.RecordStore
	Notifications store.NotificationStore
	AI            *ai.Registry
	WebhookClient *http.Client
	Logger        *slog.Logger
}

// RegisterBuiltins registers a handler for each of the ten step types.
func RegisterBuiltins(d *Dispatcher, deps Deps) error {
	engines := deps.Engines
	if engines == nil {
		var err error
		if engines, err = expressions.NewEngines(0); err != nil {
			return err
		}
	}

	all := []Handler{
		NewFileOperationHandler(deps.Files),
		NewHTTPRequestHandler(deps.HTTP),
		NewScriptHandler(engines.Expr, deps.Script, deps.Logger),
		NewConditionalHandler(engines.CEL, d),
		NewFileImportHandler(deps.Catalog, deps.Files.Policy),
		NewFileExportHandler(deps.Catalog, deps.Files.Policy),
		NewDataTransformHandler(engines.Expr, engines.JQ, deps.Files, deps.Logger),
		NewAIAnalysisHandler(deps.AI),
		NewDatabaseOperationHandler(deps.Records),
		NewNotificationHandler(deps.Notifications, deps.WebhookClient),
	}

	for _, h := range all {
		if err := d.Register(h); err != nil {
			return err
		}
	}
	return nil
}
