// Command pingserver runs a msgnet server that echoes pings and relays
// broadcasts, with an optional HTTP admin surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/msgnet"
	"github.com/Zereker/msgnet/example/ping"
	"github.com/Zereker/msgnet/internal/admin"
	"github.com/Zereker/msgnet/internal/config"
	"github.com/Zereker/msgnet/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pingserver:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a TOML config file")
	maxClients := flag.Int("max-clients", 0, "deny connections beyond this many clients (0 = no limit)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New("pingserver", cfg.LogLevel)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := msgnet.NewMetrics(cfg.MetricsNamespace, reg)

	hub := ping.NewHub(logger, *maxClients)
	opts := append(cfg.Options(), msgnet.LoggerOption(logger), msgnet.MetricsOption(metrics))
	server, err := msgnet.New[ping.MsgType](cfg.Listen, hub, opts...)
	if err != nil {
		return err
	}
	hub.Attach(server)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			if _, err := server.Update(ctx, msgnet.Unbounded, true); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	})

	if cfg.AdminAddr != "" {
		l, err := net.Listen("tcp", cfg.AdminAddr)
		if err != nil {
			_ = server.Stop()
			return err
		}
		logger.Info("admin listening", "addr", l.Addr())

		router := admin.NewRouter(server, reg, logger.Zerolog())
		g.Go(func() error {
			return admin.Serve(ctx, l, router)
		})
	}

	err = g.Wait()
	logger.Info("shutting down", "pings", hub.Pings())
	if serr := server.Stop(); err == nil {
		err = serr
	}
	return err
}
