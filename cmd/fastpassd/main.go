// Command fastpassd runs a standalone FastPass endpoint: it owns the UDP
// transport, the protocol engine, and a Prometheus metrics endpoint, wiring
// them together the way the surrounding packages describe.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/fastpass-project/fastpass/internal/stats"
	"github.com/fastpass-project/fastpass/internal/transport"
	"github.com/fastpass-project/fastpass/pkg/fastpass/engine"
)

func main() {
	if err := Command().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Command returns the fastpassd root command.
func Command() *cobra.Command {
	var configFile string
	var metricsAddr string

	c := &cobra.Command{
		Use:   "fastpassd",
		Short: "Run the FastPass endpoint reliability engine",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile, metricsAddr)
		},
	}
	c.Flags().StringVar(&configFile, "config", "", "path to a YAML config file (defaults to FASTPASS_* environment variables)")
	c.Flags().StringVar(&metricsAddr, "metrics-addr", ":9282", "address to serve Prometheus metrics on")
	return c
}

type discardCallbacks struct{}

func (discardCallbacks) HandleAck(pd *engine.PktDesc)    {}
func (discardCallbacks) HandleNegAck(pd *engine.PktDesc) {}
func (discardCallbacks) HandleReset()                    {}
func (discardCallbacks) HandleAlloc(baseTslot uint16, dsts []uint16, slotBytes []byte) {
}

func run(ctx context.Context, configFile, metricsAddr string) error {
	ctx = dgroup.WithGoroutineName(ctx, "/fastpassd")

	var cfg *engine.Config
	var err error
	if configFile != "" {
		cfg, err = engine.ConfigFromFile(configFile)
	} else {
		cfg, err = engine.ConfigFromEnv()
	}
	if err != nil {
		return err
	}

	udp, err := transport.DialUDP(cfg.PeerAddr, cfg.PeerPort)
	if err != nil {
		return err
	}
	defer udp.Close()

	collector := stats.New()
	eng, err := engine.New(*cfg, udp, discardCallbacks{}, collector)
	if err != nil {
		return err
	}
	defer eng.Close()

	g := dgroup.NewGroup(ctx, dgroup.GroupConfig{
		SoftShutdownTimeout:  2 * time.Second,
		EnableSignalHandling: true,
		ShutdownOnNonError:   true,
	})

	transport.Run(ctx, g, udp, eng)

	g.Go("metrics", func(ctx context.Context) error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
		dlog.Infof(ctx, "metrics listening on %s", metricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	return g.Wait()
}
