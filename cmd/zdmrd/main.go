// Command zdmrd is the resident download-engine daemon: it owns the
// durable store, the job dispatcher and the local control surface, and
// runs until signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/zdmr/zdmr/bandwidth"
	"github.com/zdmr/zdmr/config"
	"github.com/zdmr/zdmr/engine"
	"github.com/zdmr/zdmr/events"
	"github.com/zdmr/zdmr/logging"
	"github.com/zdmr/zdmr/runtimeinfo"
	"github.com/zdmr/zdmr/store"
	"github.com/zdmr/zdmr/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "zdmrd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a bootstrap YAML config file")
	flag.Parse()

	boot, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.Init(boot.LogDir, boot.LogLevel)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	s, err := store.Open(boot.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	if err := seedBootstrapDefaults(s, boot); err != nil {
		return fmt.Errorf("seed default settings: %w", err)
	}

	bpsRaw, err := s.GetSetting(store.KeyBandwidthLimitBps)
	if err != nil {
		return fmt.Errorf("read bandwidth setting: %w", err)
	}
	bps, _ := strconv.ParseInt(bpsRaw, 10, 64)

	hub := events.NewHub()
	limiter := bandwidth.NewLimiter(bps)
	policy := transport.NewPolicy()
	cloud := transport.NewCloudResolver()

	dispatcher := engine.New(s, hub, limiter, policy, cloud, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}

	portRaw, err := s.GetSetting(store.KeyLocalAPIPort)
	if err != nil {
		return fmt.Errorf("read port setting: %w", err)
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil || port <= 0 {
		port = boot.LocalAPIPort
	}

	token, err := s.LocalAPIToken()
	if err != nil {
		return fmt.Errorf("load api token: %w", err)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv := engine.NewServer(dispatcher, s, hub, addr, log)
	log.Info("zdmrd starting", "addr", addr, "db_path", boot.DBPath)

	if err := runtimeinfo.Write(boot.DBPath, addr, token); err != nil {
		return fmt.Errorf("write runtime info: %w", err)
	}
	defer runtimeinfo.Remove(boot.DBPath)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	select {
	case <-ctx.Done():
		dispatcher.Wait()
		return nil
	case err := <-errCh:
		return err
	}
}

// seedBootstrapDefaults writes boot's values into the settings table only
// where no value is already persisted, so an existing store always wins
// over the config file on restart.
func seedBootstrapDefaults(s *store.Store, boot *config.Bootstrap) error {
	seed := map[string]string{
		store.KeyDefaultDownloadDir: boot.DefaultDownloadDir,
		store.KeyBandwidthLimitBps:  strconv.FormatInt(boot.BandwidthLimitBps, 10),
		store.KeyLocalAPIPort:       strconv.Itoa(boot.LocalAPIPort),
		store.KeyGlobalProxyEnabled: "false",
		store.KeyGlobalProxyURL:     "",
		store.KeyMinimizeToTray:     "false",
	}
	for key, value := range seed {
		existing, err := s.GetSetting(key)
		if err != nil {
			return err
		}
		if existing != "" {
			continue
		}
		if err := s.SetSetting(key, value); err != nil {
			return err
		}
	}
	return nil
}
