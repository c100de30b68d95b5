package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"sjsage522/marketworker/config"
	"sjsage522/marketworker/helpers"
	"sjsage522/marketworker/internal"
	"sjsage522/marketworker/internal/crawler"
	"sjsage522/marketworker/logger"
	"sjsage522/marketworker/services/cache"
	"sjsage522/marketworker/services/export"
	"sjsage522/marketworker/services/publisher"
	"sjsage522/marketworker/services/searches"
	"sjsage522/marketworker/services/worker"
	"sjsage522/marketworker/storage"
)

var (
	searchesFile   string
	outputPath     string
	transportOrder string
)

var rootCmd = &cobra.Command{
	Use:   "marketworker",
	Short: "marketworker extracts marketplace listings for a list of searches.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load environment variables
		godotenv.Load()
		logger.Init()
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Runs every search and writes the results archive.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

var searchesCmd = &cobra.Command{
	Use:   "searches",
	Short: "Prints the searches that a run would execute.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		list, err := searches.LoadFile(cfg.SearchesFile)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"#", "City", "Product", "Min", "Max", "Location", "Match"})
		for i, s := range list.Snapshot() {
			t.AppendRow(table.Row{i, s.City, s.ProductQuery, s.MinPrice, s.MaxPrice, s.LocationCode, s.MatchMode})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&searchesFile, "searches", "", "searches file (overrides SEARCHES_FILE)")
	runCmd.Flags().StringVar(&outputPath, "output", "", "archive path (overrides OUTPUT_PATH)")
	runCmd.Flags().StringVar(&transportOrder, "order", "", "comma separated transport:locator pairings (overrides TRANSPORT_ORDER)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(searchesCmd)
}

func main() {
	// Set up signal handling
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration, applies flag overrides and validates it
func loadConfig() (*config.Config, error) {
	cfg := config.LoadConfig()
	if searchesFile != "" {
		cfg.SearchesFile = searchesFile
	}
	if outputPath != "" {
		cfg.OutputPath = outputPath
	}
	if transportOrder != "" {
		cfg.TransportOrder = transportOrder
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.ForApp()

	list, err := searches.LoadFile(cfg.SearchesFile)
	if err != nil {
		return fmt.Errorf("failed to load searches: %w", err)
	}
	if list.Len() == 0 {
		return fmt.Errorf("no searches in %s", cfg.SearchesFile)
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("transport_order", cfg.TransportOrder).
		Int("searches", list.Len()).
		Msg("Starting application")

	// Initialize services
	services := initializeServices(ctx, cfg)
	defer services.Cleanup()

	progress := helpers.NewChannelReporter(256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for line := range progress.Lines() {
			fmt.Fprintln(os.Stderr, "> "+line)
		}
	}()

	reporters := helpers.MultiReporter{progress, helpers.LogReporter{}}
	if cfg.DiagnosticsFile != "" {
		reporters = append(reporters, helpers.NewFileReporter(cfg.DiagnosticsFile))
	}

	deps := internal.Dependencies{
		Cache:     services.Cache,
		Publisher: services.Publisher,
		Reporter:  reporters,
	}

	orchestrator, err := crawler.NewFromConfig(cfg, deps, nil)
	if err != nil {
		return err
	}

	opts := worker.Options{
		Publisher: deps.Publisher,
		Reporter:  reporters,
		Pause:     cfg.SpecPause,
	}
	if services.Store != nil {
		opts.Sink = services.Store
	}

	result := worker.NewBatchRunner(orchestrator, opts).Run(ctx, list.Snapshot(), nil)

	progress.Close()
	<-done
	if dropped := progress.Dropped(); dropped > 0 {
		log.Debug().Int("dropped", dropped).Msg("Progress lines dropped")
	}

	printOutcomes(result)
	for _, warning := range result.Warnings {
		log.Warn().Msg(warning)
	}

	if err := export.WriteArchiveFile(cfg.OutputPath, result.Outcomes, result.Combined); err != nil {
		return err
	}
	fmt.Printf("Wrote %d listings to %s\n", len(result.Combined), cfg.OutputPath)
	return nil
}

func printOutcomes(result worker.BatchResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Search", "Status", "Records", "Pairing", "Elapsed"})
	for _, o := range result.Outcomes {
		t.AppendRow(table.Row{o.Spec.String(), o.Status, len(o.Records), o.WinningPairing, o.FinishedAt.Sub(o.StartedAt).Round(time.Millisecond)})
	}
	t.AppendFooter(table.Row{"", "", len(result.Combined), "", ""})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

// Services holds all the initialized services
type Services struct {
	Cache     cache.CacheService
	Publisher publisher.Publisher
	Store     *storage.PostgresStore
}

// Cleanup cleans up all services
func (s *Services) Cleanup() {
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.Store != nil {
		s.Store.Close()
	}
}

// initializeServices connects the optional services. An unreachable service
// is logged and left out; the extraction itself never depends on one.
func initializeServices(ctx context.Context, cfg *config.Config) *Services {
	services := &Services{}

	// Initialize cache service
	services.Cache = cache.NewMemoryCache()
	if cfg.MemcacheAddr != "" {
		memcacheService := cache.NewMemcacheService(cfg.MemcacheAddr)
		if err := memcacheService.Ping(); err != nil {
			logger.LogError("cache", err, "memcache at %s unavailable, using in-memory cooldowns", cfg.MemcacheAddr)
		} else {
			services.Cache = memcacheService
			logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)
		}
	}

	// Initialize publisher
	if cfg.RedisAddr != "" {
		redisPublisher := publisher.NewRedisPublisher(
			ctx,
			cfg.RedisAddr,
			cfg.RedisDB,
			cfg.RedisStream,
			cfg.RedisStreamMaxLength,
		)
		if err := redisPublisher.Ping(); err != nil {
			logger.LogError("publisher", err, "redis at %s unavailable, publishing disabled", cfg.RedisAddr)
			redisPublisher.Close()
		} else {
			services.Publisher = redisPublisher
			logger.Info("Connected to Redis at %s (DB: %d, Stream: %s)",
				cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream)
		}
	}

	// Initialize listing store
	if cfg.PostgresDSN != "" {
		store, err := storage.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.LogError("storage", err, "postgres unavailable, storage disabled")
		} else if err := store.EnsureSchema(ctx); err != nil {
			logger.LogError("storage", err, "failed to prepare schema, storage disabled")
			store.Close()
		} else {
			services.Store = store
			logger.Info("Connected to PostgreSQL")
		}
	}

	return services
}
