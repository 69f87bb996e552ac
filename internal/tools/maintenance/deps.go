package maintenance

import (
	"context"
	"log/slog"

	server "github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/app"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/storage"
)

// openStore opens the configured backend; tests swap it for a fixture.
var openStore = func(ctx context.Context, cfg server.StoreConfig) (storage.SessionStore, error) {
	return server.OpenStore(ctx, cfg, slog.Default())
}
