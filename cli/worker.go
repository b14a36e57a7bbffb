package cli

import (
	"fmt"

	"github.com/campushub/campushub/notify"
	"github.com/campushub/campushub/tasks"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process emitted notifications and the retention sweep",
	Long: `Consumes notification:emit tasks enqueued by collaborators, stores the
notifications and publishes them on the push bus. Also schedules the daily
sweep deleting read notifications older than retention.read_after.

Run the servers with push.bus=redis so notifications created here reach
connected users; otherwise they are picked up on the next backfill.`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// The worker holds no push channels; its registry stays empty.
	bus, closeBus := newBus(cfg, notify.NewRegistry())
	defer closeBus()
	service := notify.NewService(db, bus)

	opt := asynqRedisOpt(cfg)
	serverCfg := tasks.DefaultServerConfig(opt)
	if cfg.Worker.Concurrency > 0 {
		serverCfg.Concurrency = cfg.Worker.Concurrency
	}
	server := tasks.NewServer(serverCfg)
	tasks.RegisterNotificationHandlers(server, service, db, cfg.Retention.ReadAfter)

	scheduler, err := tasks.NewRetentionScheduler(opt)
	if err != nil {
		return err
	}

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting task server: %w", err)
	}
	defer server.Shutdown()

	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("starting retention scheduler: %w", err)
	}
	defer scheduler.Shutdown()

	log.Info().
		Int("concurrency", serverCfg.Concurrency).
		Dur("retention", cfg.Retention.ReadAfter).
		Msg("Worker running")

	<-ctx.Done()
	return nil
}
