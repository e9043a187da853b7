// Package main implements knxmon, a standalone KNX bus monitor: it opens
// a connection to a gateway or bus interface and prints every observed
// group telegram to stdout, optionally filtered by destination address
// and annotated from an ETS group-address export. It intentionally never
// imports internal/bus or any of the command/status plumbing — this is a
// diagnostic tool, not a control-plane participant.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/snapdog/snapdog/internal/knx"
	"github.com/snapdog/snapdog/internal/logging"
	"github.com/snapdog/snapdog/internal/resilience"
)

var (
	flagConnection string
	flagGateway    string
	flagPort       int
	flagMulticast  string
	flagFilter     string
	flagCSV        string
	flagVerbose    bool
)

func main() {
	root := &cobra.Command{
		Use:   "knxmon",
		Short: "Monitor KNX group telegrams on a bus connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor()
		},
	}

	root.Flags().StringVar(&flagConnection, "connection", "tunnel", "connection mode: tunnel, router, or usb")
	root.Flags().StringVar(&flagGateway, "gateway", "", "gateway host:port (tunnel mode)")
	root.Flags().IntVar(&flagPort, "port", knx.DefaultGatewayPort, "gateway port")
	root.Flags().StringVar(&flagMulticast, "multicast", knx.DefaultMulticastAddress, "multicast group address (router mode)")
	root.Flags().StringVar(&flagFilter, "filter", "", `group address wildcard filter, e.g. "1/2/*"`)
	root.Flags().StringVar(&flagCSV, "csv", "", "path to an ETS group-address export for DPT/description annotation")
	root.Flags().BoolVar(&flagVerbose, "verbose", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func runMonitor() error {
	level := "info"
	if flagVerbose {
		level = "debug"
	}
	log := logging.New(level, true)

	connType, err := knx.ParseConnectionType(flagConnection)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	filter, err := knx.CompileFilter(flagFilter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid filter pattern: %v\n", err)
		os.Exit(2)
	}

	var cat *knx.Catalog
	if flagCSV != "" {
		f, err := os.Open(flagCSV)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open csv: %v\n", err)
			os.Exit(2)
		}
		defer f.Close()
		cat, err = knx.LoadCatalog(f, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "parse csv: %v\n", err)
			os.Exit(2)
		}
	}

	cfg := knx.Config{
		Connection:       connType,
		Gateway:          flagGateway,
		Port:             flagPort,
		MulticastAddress: flagMulticast,
		Timeout:          5 * time.Second,
		AutoReconnect:    false,
	}
	policy := resilience.New(resilience.PolicyConfig{MaxRetries: 0, Timeout: 5 * time.Second})
	transport := knx.New(cfg, policy, cat, log)

	ch := make(chan knx.GroupEvent, 32)
	transport.Subscribe(ch)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- transport.Run(ctx) }()

	// Give the connection a moment to establish before deciding the run
	// loop's early exit means a connect failure rather than a legitimate
	// immediate cancellation.
	select {
	case err := <-runErr:
		if err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "knx connect failed: %v\n", err)
			os.Exit(1)
		}
		return nil
	case <-time.After(200 * time.Millisecond):
	}

	fmt.Printf("knxmon: connected (%s), press Ctrl+C to stop\n", flagConnection)

	for {
		select {
		case <-ctx.Done():
			fmt.Println("knxmon: shutting down")
			return nil
		case err := <-runErr:
			if err != nil {
				fmt.Fprintf(os.Stderr, "knx transport stopped: %v\n", err)
				os.Exit(1)
			}
			return nil
		case ev := <-ch:
			if !knx.Matches(filter, ev) {
				continue
			}
			fmt.Println(knx.RenderTelegram(ev, cat.Describe(ev.Destination)))
		}
	}
}
