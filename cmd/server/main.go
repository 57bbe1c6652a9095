/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the club scheduling engine server. Handles
  configuration, dependency injection, the background sweeps, and
  graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Wire domain services (schedule, booking, entitlements, sweeps)
  4. Start the sweep runner
  5. Start HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080, env PORT)
  -db      SQLite database path (default: club.db, env CLUB_DB)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweep runner
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/club.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - sweep/runner.go: Background sweep cadence
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
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/club-engine/api"
	"github.com/warp/club-engine/booking"
	"github.com/warp/club-engine/club"
	"github.com/warp/club-engine/entitlement"
	"github.com/warp/club-engine/notify"
	"github.com/warp/club-engine/schedule"
	"github.com/warp/club-engine/store/sqlite"
	"github.com/warp/club-engine/sweep"
)

func main() {
	// .env is optional; flags beat environment.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("CLUB_DB", "club.db"), "SQLite database path")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire domain services
	clock := club.SystemClock{}
	notifier := notify.LogNotifier{}

	sched := schedule.NewService(store, clock)
	bookings := booking.NewLedger(store, clock, notifier)
	entitlements := entitlement.NewLedger(store, clock)

	engine := sweep.NewEngine(store, clock, notifier)
	runner := sweep.NewRunner(engine, sweep.DefaultIntervals())
	runner.Start()
	defer runner.Stop()

	// Create router
	handler := api.NewHandler(store, sched, bookings, entitlements, runner)
	router := api.NewRouter(handler)

	// Create server
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

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
