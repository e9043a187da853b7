// Package main is the snapdogd daemon entrypoint: it loads configuration,
// wires every integration (KNX, MQTT, Snapcast, HTTP API) onto the
// command/status bus, and runs until signalled to stop. A cobra root
// command with run/version subcommands drives signal-triggered graceful
// shutdown across the full set of SnapDog services.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/snapdog/snapdog/internal/bus"
	"github.com/snapdog/snapdog/internal/catalog"
	"github.com/snapdog/snapdog/internal/command"
	"github.com/snapdog/snapdog/internal/config"
	"github.com/snapdog/snapdog/internal/decoder"
	"github.com/snapdog/snapdog/internal/health"
	"github.com/snapdog/snapdog/internal/httpapi"
	"github.com/snapdog/snapdog/internal/knx"
	"github.com/snapdog/snapdog/internal/logging"
	"github.com/snapdog/snapdog/internal/mqtt"
	"github.com/snapdog/snapdog/internal/player"
	"github.com/snapdog/snapdog/internal/resilience"
	"github.com/snapdog/snapdog/internal/snapcast"
)

// Build-time variables set by the Makefile via -ldflags.
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "snapdogd",
		Short: "snapdogd — multi-room audio controller fronting Snapcast",
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("snapdogd %s\nBuilt: %s\n", version, buildTime)
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
}

// services collects the handles run needs to shut down in order:
// adapters, then the notification queue, then zone engines (via ctx
// cancellation), then transports.
type services struct {
	mqttAdapter  *mqtt.Adapter
	knxTransport *knx.Transport
	scConn       *snapcast.Conn
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	log := logging.New(cfg.System.LogLevel, cfg.System.Environment != "production")
	log.Info().Str("version", version).Str("build_time", buildTime).Msg("snapdogd starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := health.NewRegistry()

	queue := bus.NewNotificationQueue(bus.DefaultQueueConfig(), logging.Component(log, "bus"))
	disp := bus.New(queue, logging.Component(log, "bus"))
	go queue.Run(ctx)

	cat := buildCatalog(ctx, cfg, log)

	zonePlayers := make([]*player.ZonePlayer, 0, len(cfg.Zones))
	audio := decoder.TranscodeSpec{
		SampleRate: cfg.Audio.SampleRate,
		BitDepth:   decoder.BitDepth(cfg.Audio.BitDepth),
		Channels:   cfg.Audio.Channels,
	}
	for _, z := range cfg.Zones {
		zp := player.New(z.Index, z.Name, z.Sink, audio, decoder.New, cat, disp, logging.Component(log, "player"))
		zonePlayers = append(zonePlayers, zp)
		disp.RegisterZone(zp)
		go zp.Run(ctx)
	}

	dispatch := func(ctx context.Context, cmd command.Command) error {
		_, err := disp.Dispatch(ctx, cmd)
		return err
	}

	var svc services

	if cfg.Knx.Enabled {
		svc.knxTransport, err = setupKNX(ctx, cfg, disp, dispatch, log, reg)
		if err != nil {
			return fmt.Errorf("knx setup: %w", err)
		}
	}

	if cfg.Mqtt.Enabled {
		svc.mqttAdapter = mqtt.New(cfg.Mqtt, cfg.Zones, cfg.Clients, dispatch, zoneMuteFunc(disp), logging.Component(log, "mqtt"))
		if err := svc.mqttAdapter.Connect(ctx); err != nil {
			reg.Report("mqtt", health.StatusDown, err.Error())
			log.Error().Err(err).Msg("mqtt connect failed, continuing without it")
			svc.mqttAdapter = nil
		} else {
			reg.Report("mqtt", health.StatusUp, "")
			disp.Subscribe(svc.mqttAdapter)
		}
	}

	clientCtl, scConn, err := setupSnapcast(ctx, cfg, disp, log, reg)
	if err != nil {
		return fmt.Errorf("snapcast setup: %w", err)
	}
	svc.scConn = scConn

	if cfg.API.Enabled {
		var lister httpapi.ClientLister
		if clientCtl != nil {
			lister = clientCtl
		}
		httpSrv := httpapi.New(cfg.API, disp, lister, reg, logging.Component(log, "httpapi"))
		disp.Subscribe(httpSrv.Adapter())
		go func() {
			if err := httpSrv.Run(ctx); err != nil {
				log.Error().Err(err).Msg("http api server stopped with error")
			}
		}()
	}

	reg.Report("zones", health.StatusUp, fmt.Sprintf("%d zone(s) registered", len(zonePlayers)))

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, stopping")

	if svc.mqttAdapter != nil {
		svc.mqttAdapter.Disconnect()
	}
	queue.Shutdown()
	if svc.knxTransport != nil {
		svc.knxTransport.Stop()
	}
	if svc.scConn != nil {
		svc.scConn.Close()
	}

	log.Info().Msg("snapdogd shutdown complete")
	return nil
}

func buildCatalog(ctx context.Context, cfg *config.Config, log zerolog.Logger) catalog.MediaCatalog {
	stations := make([]catalog.RadioStation, 0, len(cfg.Radios))
	for _, r := range cfg.Radios {
		stations = append(stations, catalog.RadioStation{ID: fmt.Sprintf("%d", r.Index), Name: r.Name, URL: r.URL})
	}
	sources := []catalog.MediaCatalog{catalog.NewRadioCatalog(stations)}

	if cfg.Subsonic.Enabled {
		subCfg := catalog.SubsonicConfig{
			BaseURL:  cfg.Subsonic.URL,
			Username: cfg.Subsonic.Username,
			Password: cfg.Subsonic.Password,
			ClientID: "snapdog",
		}
		policy := resilience.New(cfg.Subsonic.Operation)
		sources = append(sources, catalog.NewSubsonicCatalog(subCfg, policy, logging.Component(log, "subsonic")))
	}

	if cfg.Library.Enabled {
		lib, err := catalog.NewLocalCatalog(cfg.Library.Directory, logging.Component(log, "library"))
		if err != nil {
			log.Error().Err(err).Str("dir", cfg.Library.Directory).Msg("local library watch failed to start, continuing without it")
		} else {
			sources = append(sources, lib)
			go lib.Run(ctx)
		}
	}

	return catalog.NewMulti(sources...)
}

// zoneMuteFunc adapts the dispatcher's ZoneSnapshot into the ZoneMuteFunc
// the MQTT adapter needs to resolve a "toggle" payload.
func zoneMuteFunc(disp *bus.Dispatcher) mqtt.ZoneMuteFunc {
	return func(zoneIndex uint32) (bool, bool) {
		zs, ok := disp.ZoneSnapshot(zoneIndex)
		if !ok {
			return false, false
		}
		return zs.Muted, true
	}
}

func setupKNX(ctx context.Context, cfg *config.Config, disp *bus.Dispatcher, dispatch knx.DispatchFunc, log zerolog.Logger, reg *health.Registry) (*knx.Transport, error) {
	connType, err := knx.ParseConnectionType(cfg.Knx.ConnectionType)
	if err != nil {
		return nil, err
	}

	var cat *knx.Catalog
	if cfg.Knx.GroupAddressCSV != "" {
		f, openErr := os.Open(cfg.Knx.GroupAddressCSV)
		if openErr != nil {
			log.Warn().Err(openErr).Str("path", cfg.Knx.GroupAddressCSV).Msg("knx group address catalogue could not be opened, falling back to heuristic DPT detection")
		} else {
			defer f.Close()
			cat, err = knx.LoadCatalog(f, logging.Component(log, "knx"))
			if err != nil {
				log.Warn().Err(err).Msg("knx group address catalogue failed to parse")
				cat = nil
			}
		}
	}

	transportCfg := knx.Config{
		Connection:       connType,
		Gateway:          cfg.Knx.Gateway,
		Port:             cfg.Knx.Port,
		MulticastAddress: cfg.Knx.MulticastAddress,
		USBDevice:        cfg.Knx.USBDevice,
		Timeout:          time.Duration(cfg.Knx.Timeout) * time.Second,
		AutoReconnect:    cfg.Knx.AutoReconnect,
	}
	policy := resilience.New(cfg.Knx.Connection)
	transport := knx.New(transportCfg, policy, cat, logging.Component(log, "knx"))

	volumeOf := func(zoneIndex uint32) (uint8, bool) {
		zs, ok := disp.ZoneSnapshot(zoneIndex)
		if !ok {
			return 0, false
		}
		return zs.Volume, true
	}
	muteOf := func(zoneIndex uint32) (bool, bool) {
		zs, ok := disp.ZoneSnapshot(zoneIndex)
		if !ok {
			return false, false
		}
		return zs.Muted, true
	}

	svc := knx.NewService(transport, dispatch, volumeOf, muteOf, cfg.Zones, logging.Component(log, "knx"))
	disp.SetSystemController(svc)
	disp.Subscribe(svc)

	go func() {
		if err := transport.Run(ctx); err != nil && ctx.Err() == nil {
			reg.Report("knx", health.StatusDown, err.Error())
			log.Error().Err(err).Msg("knx transport stopped with error")
		}
	}()
	go svc.Run(ctx)
	reg.Report("knx", health.StatusUp, "")

	return transport, nil
}

// setupSnapcast dials the Snapcast control socket and wires the
// reconciler and client controller. A dial failure is logged and
// reported unhealthy rather than treated as fatal, since zone playback
// and KNX/MQTT control remain useful without client-group management.
func setupSnapcast(ctx context.Context, cfg *config.Config, disp *bus.Dispatcher, log zerolog.Logger, reg *health.Registry) (*snapcast.ClientController, *snapcast.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Snapcast.Address, cfg.Snapcast.JSONRPCPort)
	policy := resilience.New(resilience.PolicyConfig{
		MaxRetries: 3,
		RetryDelay: time.Duration(cfg.Snapcast.ReconnectInterval) * time.Second,
		Backoff:    resilience.BackoffConstant,
		Timeout:    time.Duration(cfg.Snapcast.Timeout) * time.Second,
	})

	conn, err := snapcast.Dial(ctx, addr, policy, logging.Component(log, "snapcast"))
	if err != nil {
		reg.Report("snapcast", health.StatusDown, err.Error())
		log.Error().Err(err).Msg("snapcast connect failed, continuing without client control")
		return nil, nil, nil
	}

	control := snapcast.NewControl(conn, logging.Component(log, "snapcast"))

	zoneSinks := make([]snapcast.ZoneSink, 0, len(cfg.Zones))
	for _, z := range cfg.Zones {
		zoneSinks = append(zoneSinks, snapcast.ZoneSink{ZoneIndex: z.Index, StreamID: z.Sink})
	}

	recon := snapcast.New(control, cfg.Clients, zoneSinks, 5*time.Second, 500*time.Millisecond, conn.Events(), logging.Component(log, "snapcast"))
	go recon.Run(ctx)

	clientCtl := snapcast.NewClientController(control, recon)
	disp.SetClientController(clientCtl)

	reg.Report("snapcast", health.StatusUp, "")
	return clientCtl, conn, nil
}
