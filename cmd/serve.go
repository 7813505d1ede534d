package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandboxd/sandboxd/internal/cleanup"
	"github.com/sandboxd/sandboxd/internal/db"
	"github.com/sandboxd/sandboxd/internal/jobs"
	"github.com/sandboxd/sandboxd/internal/notify"
	"github.com/sandboxd/sandboxd/internal/registry"
	"github.com/sandboxd/sandboxd/internal/runtime"
	"github.com/sandboxd/sandboxd/internal/sandbox"
	"github.com/sandboxd/sandboxd/internal/server"
	"github.com/sandboxd/sandboxd/internal/vcs"
)

var (
	port          int
	sandboxImage  string
	backend       string
	dbURL         string
	idleThreshold time.Duration
	sweepInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sandboxd HTTP server",
	Long:  `Start the orchestration server: sandbox lifecycle API, job pipeline workers, and the idle cleanup scheduler.`,
	Run: func(cmd *cobra.Command, args []string) {
		// Resolve DB URL from flag or env.
		if dbURL == "" {
			dbURL = os.Getenv("DATABASE_URL")
		}
		if dbURL == "" {
			log.Fatal("--db-url or DATABASE_URL is required")
		}

		// Resolve idle threshold from env if not set via flag.
		if !cmd.Flags().Changed("idle-threshold") {
			if envThreshold := os.Getenv("IDLE_THRESHOLD"); envThreshold != "" {
				if d, err := time.ParseDuration(envThreshold); err == nil {
					idleThreshold = d
				}
			}
		}

		database, err := db.Open(dbURL)
		if err != nil {
			log.Fatalf("Database connection failed: %v", err)
		}
		defer database.Close()
		log.Println("Connected to PostgreSQL")

		// Load resource refs the registry still tracks so orphan cleanup
		// never reclaims a live sandbox.
		knownRefs, err := database.ListActiveResourceRefs(context.Background())
		if err != nil {
			log.Printf("Warning: failed to load active resource refs: %v", err)
		}

		var adapter runtime.Adapter
		switch backend {
		case "docker":
			cfg := runtime.DefaultDockerConfig()
			if sandboxImage != "" {
				cfg.Image = sandboxImage
			}
			dockerAdapter, err := runtime.NewDockerAdapter(cfg)
			if err != nil {
				log.Fatalf("Docker backend unavailable: %v", err)
			}
			dockerAdapter.CleanOrphans(context.Background(), knownRefs)
			log.Printf("Using Docker backend (image: %s)", cfg.Image)
			adapter = dockerAdapter

		case "k8s":
			cfg := runtime.DefaultK8sConfig()
			k8sAdapter, err := runtime.NewK8sAdapter(cfg)
			if err != nil {
				log.Fatalf("K8s backend unavailable: %v", err)
			}
			k8sAdapter.CleanOrphans(context.Background(), knownRefs)
			log.Printf("Using K8s sandbox backend (namespace: %s)", cfg.Namespace)
			adapter = k8sAdapter

		default:
			log.Fatalf("Unknown backend: %s (supported: docker, k8s)", backend)
		}

		image := sandboxImage
		if image == "" {
			image = envOrDefault("SANDBOX_IMAGE", "sandboxd-agent:latest")
		}

		reg := registry.NewStore(database)
		manager := sandbox.NewManager(reg, adapter, sandbox.Config{
			Image:           image,
			DefaultModelKey: os.Getenv("MODEL_API_KEY"),
		})

		// Hosting API client for PR submission and checkpoint reverts. Jobs
		// that need no credential run fine without one configured.
		var vcsClient jobs.VCS
		if appID := os.Getenv("VCS_APP_ID"); appID != "" {
			keyPEM, err := os.ReadFile(os.Getenv("VCS_APP_KEY_FILE"))
			if err != nil {
				log.Fatalf("Failed to read VCS app key: %v", err)
			}
			client, err := vcs.NewClient(vcs.Config{
				BaseURL:        envOrDefault("VCS_BASE_URL", "https://api.github.com"),
				AppID:          appID,
				InstallationID: os.Getenv("VCS_INSTALLATION_ID"),
				PrivateKeyPEM:  keyPEM,
			})
			if err != nil {
				log.Fatalf("Failed to initialize hosting API client: %v", err)
			}
			vcsClient = client
			log.Println("Hosting API client configured")
		}

		coordinator := jobs.NewCoordinator(
			database,
			func(sessionID string) jobs.Client { return sandbox.NewClient(sessionID, reg) },
			manager,
			vcsClient,
			notify.Log{},
			jobs.Config{},
		)

		srv := server.New(manager, reg, coordinator)
		addr := fmt.Sprintf(":%d", port)
		httpServer := &http.Server{Addr: addr, Handler: srv.Router()}

		ctx, cancel := context.WithCancel(context.Background())
		go coordinator.Run(ctx)
		log.Println("Job pipeline workers started")

		if idleThreshold > 0 {
			scheduler := cleanup.NewScheduler(reg, manager, sweepInterval, idleThreshold)
			go scheduler.Run(ctx)
		}

		// Graceful shutdown on SIGTERM/SIGINT
		go func() {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
			sig := <-sigCh
			log.Printf("Received %v, shutting down...", sig)
			cancel()
			httpServer.Shutdown(context.Background())
		}()

		log.Printf("Starting sandboxd on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	},
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&sandboxImage, "sandbox-image", "", "Container image for session sandboxes")
	serveCmd.Flags().StringVar(&backend, "backend", "docker", "Sandbox backend: docker or k8s")
	serveCmd.Flags().StringVar(&dbURL, "db-url", "", "PostgreSQL connection URL (or use DATABASE_URL env)")
	serveCmd.Flags().DurationVar(&idleThreshold, "idle-threshold", time.Hour, "Idle sandbox cleanup threshold (0 to disable)")
	serveCmd.Flags().DurationVar(&sweepInterval, "sweep-interval", time.Minute, "Cleanup scheduler sweep cadence")
}
