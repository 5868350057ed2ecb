package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"callrelay/internal/api"
	"callrelay/internal/classifier"
	"callrelay/internal/config"
	"callrelay/internal/dedupe"
	"callrelay/internal/history"
	"callrelay/internal/monitor"
	"callrelay/internal/state"
	"callrelay/internal/upstream"
)

const defaultConfigPath = "/etc/callrelay/callrelay.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		cmdStart()
	case "status":
		cmdStatus()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Callrelay - Predictive Dialer Callback Relay")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  callrelay start      Start the relay service")
	fmt.Println("  callrelay status     Show how to check service status")
	fmt.Println()
}

// cmdStart wires everything together and runs the service.
func cmdStart() {
	log.Println("[Main] Callrelay Service v1.0")
	log.Println("[Main] Starting services...")

	configPath := os.Getenv("CALLRELAY_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[Main] Error loading configuration: %v", err)
	}

	// Redis backs both the attempt state store and the dedup gate.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("[Main] Error connecting to Redis: %v", err)
	}
	defer rdb.Close()
	log.Println("[Main] ✓ Redis connected")

	states := state.NewStore(rdb, cfg.TTL.CallStateTTL())
	gate := dedupe.NewGate(rdb, cfg.TTL.ProcessingTTL(), cfg.TTL.DedupeTTL(), cfg.Classifier.DedupeFailOpen)

	// The call-history database is a read-only fallback plus the event log;
	// the service still runs without it.
	var repo *history.Repository
	var lookup classifier.Phone1Lookup
	if cfg.Database.Database != "" {
		dbConn, err := history.NewConnection(cfg.Database)
		if err != nil {
			log.Fatalf("[Main] Error connecting to database: %v", err)
		}
		defer dbConn.Close()

		repo = history.NewRepository(dbConn)
		defer repo.Close()
		lookup = repo
		log.Println("[Main] ✓ Call-history database connected")
	} else {
		log.Println("[Main] Call-history database not configured; lookup fallback disabled")
	}

	cls := classifier.New(states, lookup)
	relay := upstream.NewClient(cfg.Upstream)

	hub := monitor.NewHub()
	go hub.Run()
	log.Println("[Main] ✓ Monitor hub started")

	apiServer := api.NewServer(cfg, cls, gate, states, repo, relay, hub)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Fatalf("[Main] Error starting API: %v", err)
		}
	}()

	log.Println("[Main] ========================================")
	log.Printf("[Main] API listening on %s", cfg.API.Address())
	log.Printf("[Main] Upstream env: %s (send enabled: %v)", config.NormalizeEnv(cfg.Upstream.Env), cfg.Upstream.EnableSend)
	log.Println("[Main] Service started. Press Ctrl+C to stop")
	log.Println("[Main] ========================================")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("[Main] Stopping service...")
}

// cmdStatus prints operational pointers.
func cmdStatus() {
	fmt.Println("Callrelay Service Status")
	fmt.Println("========================")
	fmt.Println()
	fmt.Println("To check the service:")
	fmt.Println("  systemctl status callrelay")
	fmt.Println()
	fmt.Println("To tail logs:")
	fmt.Println("  journalctl -u callrelay -f")
	fmt.Println()
	fmt.Println("To check the API:")
	fmt.Println("  curl http://localhost:8080/health")
}
