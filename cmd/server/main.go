/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the activity accrual engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Wire session manager, scheduler, cache, and zone resolver
  4. Configure HTTP router
  5. Start server and scheduler with graceful shutdown

COMMAND-LINE FLAGS:
  -port       HTTP server port (default: 8080)
  -db         SQLite database path (default: accrual.db)
              Use ":memory:" for an in-memory database
  -tz         Server timezone for the global team reset (default: UTC)
  -scheduler  Enable the background reset scheduler (default: true)
  -recover    Run a recovery pass on startup for resets missed while down

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for an in-flight tick)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/accrual.db"

  # Run with in-memory database, scheduler off
  ./server -db=":memory:" -scheduler=false

  # Anchor the global team reset to another zone
  ./server -tz="America/New_York"

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - scheduler/scheduler.go: Background reset passes
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/api"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/cache"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/engine"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/scheduler"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "accrual.db", "SQLite database path")
	serverZone := flag.String("tz", engine.ReferenceZone, "Server timezone for global team resets")
	schedulerOn := flag.Bool("scheduler", true, "Enable the background reset scheduler")
	recoverOnBoot := flag.Bool("recover", false, "Run a recovery pass on startup")
	flag.Parse()

	if err := engine.ValidateZone(*serverZone); err != nil {
		log.Fatalf("Invalid -tz value: %v", err)
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Shared read cache and timezone resolver
	readCache := cache.New(1000, 5*time.Minute)
	zones := engine.NewResolver(store)

	// Session manager
	sessions := engine.NewManager(store, store, zones)
	sessions.Cache = readCache

	// Scheduler
	sched := scheduler.New(store, sessions, zones)
	sched.Cache = readCache
	sched.ServerZone = *serverZone
	sched.Enabled = *schedulerOn

	if *recoverOnBoot {
		daily, monthly := sched.RunRecovery(context.Background())
		log.Printf("[Main] Recovery pass: daily processed=%d failed=%d, monthly processed=%d failed=%d",
			daily.Processed, len(daily.Failures), monthly.Processed, len(monthly.Failures))
	}

	sched.Start()
	defer sched.Stop()

	// HTTP layer
	handler := api.NewHandler(store, sessions, sched, zones, readCache)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
