package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"proctord/internal/api"
	"proctord/internal/config"
	"proctord/internal/database"
	"proctord/internal/session"
	"proctord/internal/vision"
	"proctord/internal/websocket"
	pkgdatabase "proctord/pkg/database"
)

// Application wires all components in dependency order:
// Database -> Vision -> Connection registry -> Session manager -> API/WS -> HTTP.
type Application struct {
	config     *config.Config
	dbManager  *database.Manager
	manager    *session.Manager
	registry   *websocket.Registry
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication initializes every component and verifies the schema, but
// does not start serving or resume sessions yet.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
		MigrationsPath:  "migrations",
	}

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	migrationManager := pkgdatabase.NewMigrationManager(dbManager.GetDB(), dbConfig.MigrationsPath)
	if err := migrationManager.ApplyMigrations(); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	validator := pkgdatabase.NewSchemaValidator(dbManager.GetDB())
	if err := validator.ValidateTablesExist(); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	log.Println("Database ready, schema validated")

	detector := vision.NewClient(cfg.Vision.Endpoint, cfg.Vision.Timeout)

	// The connection registry doubles as the actors' notifier, so it comes
	// before the session manager.
	registry := websocket.NewRegistry()

	manager, err := session.NewManager(dbManager, detector, registry, cfg.Proctoring)
	if err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to initialize session manager: %w", err)
	}

	wsHandler := websocket.NewHandler(manager, registry, cfg.WebSocket)
	apiServer := api.NewServer(manager, dbManager, wsHandler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		dbManager:  dbManager,
		manager:    manager,
		registry:   registry,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start resumes persisted sessions and begins serving.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting proctord on %s", app.httpServer.Addr)

	// Actors for attempts that survived a restart come up before the
	// listener so their timers and polls are live when clients reconnect.
	if err := app.manager.ResumeSessions(ctx); err != nil {
		return fmt.Errorf("failed to resume sessions: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("proctord started, %d session(s) active", app.manager.ActiveCount())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP, connections, actors,
// database. Running attempts are not submitted; they resume on restart.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down proctord")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	app.registry.Shutdown()
	app.manager.Shutdown()

	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("proctord shutdown complete")
	return nil
}

// GetAddr returns the listen address.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
