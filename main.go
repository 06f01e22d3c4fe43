package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/spf13/cobra"

	"kptv-player/work/auth"
	"kptv-player/work/cache"
	"kptv-player/work/catalog"
	"kptv-player/work/client"
	"kptv-player/work/config"
	"kptv-player/work/database"
	"kptv-player/work/dispatch"
	"kptv-player/work/handlers"
	"kptv-player/work/hls"
	"kptv-player/work/logger"
	"kptv-player/work/player"
	"kptv-player/work/presentation"
	"kptv-player/work/surface"
	"kptv-player/work/utils"
)

var (
	Version = "v0.1.0" // default version

	configPath string
)

var rootCmd = &cobra.Command{
	Use:           "kptv-player",
	Short:         "Adaptive streaming playback engine for IPTV catalogs",
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       Version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Ingest the catalog and serve the playback control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), loadConfig())
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one catalog ingestion and print a summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		return ingestOnce(cmd.Context(), loadConfig())
	},
}

var exampleConfigCmd = &cobra.Command{
	Use:   "example-config <path>",
	Short: "Write an example configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.CreateExampleConfig(args[0]); err != nil {
			return fmt.Errorf("write example config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "example configuration written to %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the JSON configuration (default $KPTV_CONFIG or "+config.DefaultConfigPath+")")
	rootCmd.AddCommand(serveCmd, ingestCmd, exampleConfigCmd)
}

// our main app worker
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	path := configPath
	if path == "" {
		path = os.Getenv("KPTV_CONFIG")
	}
	cfg := config.LoadConfig(path)
	logger.SetLogLevel(cfg.LogLevel)
	return cfg
}

// openCatalog wires the persistence, authorization and catalog layers shared by serve
// and ingest.
func openCatalog(cfg *config.Config, httpClient *client.HeaderSettingClient) (*catalog.Builder, *database.DB, error) {
	db, err := database.Open(cfg.DeviceDBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	authClient := auth.NewClient(httpClient, cfg, db)
	return catalog.NewBuilder(authClient, db), db, nil
}

func ingestOnce(ctx context.Context, cfg *config.Config) error {
	builder, db, err := openCatalog(cfg, client.NewHeaderSettingClient(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := builder.Ingest(ctx)
	if err != nil {
		return err
	}

	counts := make(map[string]int)
	unplayable := 0
	for _, e := range entries {
		counts[e.Type.String()]++
		if !e.Playable && e.Type.Playable() {
			unplayable++
		}
	}
	fmt.Printf("ingested %d entries in %d groups\n", len(entries), len(builder.Groups()))
	for _, typ := range []string{"live", "movie", "series", "unknown"} {
		fmt.Printf("  %-8s %d\n", typ, counts[typ])
	}
	fmt.Printf("  without a playable source: %d\n", unplayable)
	return nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.WithComponent("main")

	httpClient := client.NewHeaderSettingClient(cfg)

	builder, db, err := openCatalog(cfg, httpClient)
	if err != nil {
		return err
	}
	defer db.Close()

	if n, err := builder.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("could not restore catalog snapshot")
	} else if n > 0 {
		log.Info().Int("entries", n).Msg("restored catalog snapshot")
	}

	// Initialize worker pool
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer workerPool.Release()

	manifests := cache.NewManifestCache(cfg.ManifestCacheTTL)
	controller := player.NewController(hls.NewFactory(httpClient, workerPool, manifests, cfg))
	surfaces := surface.NewRegistry(surface.Options{Realtime: true, FullscreenMethods: presentation.FullscreenMethods})
	dispatcher := dispatch.New(controller, surfaces.Provide, func(player.Surface) *presentation.Controller {
		return presentation.NewController(nil, cfg.DeviceUserAgent)
	})
	defer dispatcher.CloseAll()

	router := mux.NewRouter()
	handlers.SetupRoutes(router, builder, dispatcher)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().
		Str("version", Version).
		Str("listen", cfg.ListenAddr).
		Str("authURL", utils.LogURL(cfg, cfg.AuthURL)).
		Int("workers", cfg.WorkerThreads).
		Dur("manifestCacheTTL", cfg.ManifestCacheTTL).
		Bool("mobile", presentation.IsMobile(cfg.DeviceUserAgent)).
		Msg("starting kptv-player")

	// initial import, then one more on every SIGHUP
	go func() {
		if _, err := builder.Ingest(ctx); err != nil {
			log.Error().Err(err).Msg("initial catalog ingestion failed")
		}
	}()
	refresh := make(chan os.Signal, 1)
	signal.Notify(refresh, syscall.SIGHUP)
	defer signal.Stop(refresh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-refresh:
				if _, err := builder.Ingest(ctx); err != nil {
					log.Warn().Err(err).Msg("catalog refresh failed")
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
