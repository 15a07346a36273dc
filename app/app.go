/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package app

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/jackal-im/presenced/c2s"
	"github.com/jackal-im/presenced/cluster"
	"github.com/jackal-im/presenced/component"
	"github.com/jackal-im/presenced/host"
	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/module/presencehub"
	"github.com/jackal-im/presenced/module/roster"
	"github.com/jackal-im/presenced/multiplexer"
	"github.com/jackal-im/presenced/registry"
	"github.com/jackal-im/presenced/router"
	"github.com/jackal-im/presenced/s2s"
	"github.com/jackal-im/presenced/storage"
	"github.com/jackal-im/presenced/version"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultShutDownWaitTime = time.Duration(5) * time.Second
)

var logoStr = []string{
	`                                                  __`,
	`    ____  ________  ________  ____  ________  ____/ /`,
	`   / __ \/ ___/ _ \/ ___/ _ \/ __ \/ ___/ _ \/ __  / `,
	`  / /_/ / /  /  __(__  )  __/ / / / /__/  __/ /_/ /  `,
	` / .___/_/   \___/____/\___/_/ /_/\___/\___/\__,_/   `,
	`/_/                                                  `,
}

const usageStr = `
Usage: presenced [options]

Server Options:
    -c, --config <file>    Configuration file path
Common Options:
    -h, --help             Show this message
    -v, --version          Show version
`

// Application encapsulates a presenced server application.
type Application struct {
	output           io.Writer
	args             []string
	cluster          *cluster.Cluster
	router           *router.Router
	hub              *presencehub.Hub
	c2s              *c2s.C2S
	s2s              *s2s.S2S
	comps            *component.Components
	mux              *multiplexer.Multiplexer
	debugSrv         *http.Server
	expireStopCh     chan struct{}
	waitStopCh       chan os.Signal
	shutDownWaitSecs time.Duration
}

// New returns a runnable application given an output and a command line arguments array.
func New(output io.Writer, args []string) *Application {
	return &Application{
		output:           output,
		args:             args,
		expireStopCh:     make(chan struct{}),
		waitStopCh:       make(chan os.Signal, 1),
		shutDownWaitSecs: defaultShutDownWaitTime,
	}
}

// Run runs presenced application until either a stop signal is received or an error occurs.
func (a *Application) Run() error {
	if len(a.args) == 0 {
		return errors.New("empty command-line arguments")
	}
	var configFile string
	var showVersion, showUsage bool

	fs := flag.NewFlagSet("presenced", flag.ExitOnError)
	fs.SetOutput(a.output)

	fs.BoolVar(&showUsage, "help", false, "Show this message")
	fs.BoolVar(&showUsage, "h", false, "Show this message")
	fs.BoolVar(&showVersion, "version", false, "Print version information.")
	fs.BoolVar(&showVersion, "v", false, "Print version information.")
	fs.StringVar(&configFile, "config", "/etc/presenced/presenced.yml", "Configuration file path.")
	fs.StringVar(&configFile, "c", "/etc/presenced/presenced.yml", "Configuration file path.")
	fs.Usage = func() {
		for i := range logoStr {
			_, _ = fmt.Fprintf(a.output, "%s\n", logoStr[i])
		}
		_, _ = fmt.Fprintf(a.output, "%s\n", usageStr)
	}
	_ = fs.Parse(a.args[1:])

	// print usage
	if showUsage {
		fs.Usage()
		return nil
	}
	// print version
	if showVersion {
		_, _ = fmt.Fprintf(a.output, "presenced version: %v\n", version.ApplicationVersion)
		return nil
	}
	// load configuration
	var cfg Config
	if err := cfg.FromFile(configFile); err != nil {
		return err
	}
	// create PID file
	if err := a.createPIDFile(cfg.PIDFile); err != nil {
		return err
	}
	// initialize logger
	var nodeID string
	if cfg.Cluster != nil {
		nodeID = cfg.Cluster.Name
	}
	if err := log.Initialize(&cfg.Logger, nodeID); err != nil {
		return err
	}
	a.printLogo()

	if err := a.bootstrap(&cfg); err != nil {
		log.Unset()
		return err
	}

	// ...wait for stop signal to shutdown
	sig := a.waitForStopSignal()
	log.Infof("received %s signal... shutting down...", sig.String())

	return a.gracefullyShutdown()
}

func (a *Application) bootstrap(cfg *Config) error {
	// initialize storage
	repContainer, err := storage.New(&cfg.Storage)
	if err != nil {
		return err
	}
	// initialize cluster
	var hubCluster presencehub.Cluster
	var publisher cluster.Publisher = cluster.NopPublisher{}
	if cfg.Cluster != nil {
		if !repContainer.IsClusterCompatible() {
			return errors.New("app: configured storage is not cluster compatible")
		}
		a.cluster, err = cluster.New(cfg.Cluster)
		if err != nil {
			return err
		}
		hubCluster = a.cluster
		publisher = a.cluster
	}
	hosts, err := host.New(cfg.Hosts)
	if err != nil {
		return err
	}
	a.router = router.New(hosts, registry.New(), repContainer.User())

	// presence handling
	rst := roster.New(a.router, repContainer.Roster(), repContainer.User())
	a.hub = presencehub.New(a.router, hubCluster)
	if a.cluster != nil {
		a.cluster.AddDelegate(a.hub)
		if err := a.cluster.Join(); err != nil {
			return err
		}
	}
	go a.expireDirectedPresences(cfg.Presences.ExpireInterval)

	// start serving s2s...
	if cfg.S2S != nil {
		a.s2s, err = s2s.New(cfg.S2S, a.router, s2s.NewHandler(a.router, rst))
		if err != nil {
			return err
		}
		a.s2s.Start()
	}
	// ...components...
	if len(cfg.Components) > 0 {
		a.comps, err = component.New(cfg.Components, a.router, component.NewHandler(a.router, rst))
		if err != nil {
			return err
		}
		a.comps.Start()
	}
	// ...c2s and multiplexed c2s
	c2sHandler := c2s.NewHandler(a.router, rst, a.hub)
	a.c2s, err = c2s.New(cfg.C2S, a.router, repContainer.User(), c2sHandler, publisher)
	if err != nil {
		return err
	}
	a.c2s.Start()

	if cfg.Multiplexer != nil {
		a.mux = multiplexer.New(cfg.Multiplexer, a.router, c2sHandler, publisher)
		a.mux.Start()
	}

	// initialize debug server...
	if cfg.Debug.Port > 0 {
		if err := a.initDebugServer(cfg.Debug.Port); err != nil {
			return err
		}
	}
	return nil
}

func (a *Application) createPIDFile(pidFile string) error {
	if len(pidFile) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(pidFile), os.ModePerm); err != nil {
		return err
	}
	file, err := os.Create(pidFile)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	currentPid := os.Getpid()
	if _, err := file.WriteString(strconv.FormatInt(int64(currentPid), 10)); err != nil {
		return err
	}
	return nil
}

func (a *Application) printLogo() {
	for i := range logoStr {
		log.Infof("%s", logoStr[i])
	}
	log.Infof("")
	log.Infof("presenced %v\n", version.ApplicationVersion)
}

func (a *Application) expireDirectedPresences(interval time.Duration) {
	tc := time.NewTicker(interval)
	defer tc.Stop()
	for {
		select {
		case <-tc.C:
			a.hub.RemoveExpired(context.Background(), a.router.HasLocalRoute)
		case <-a.expireStopCh:
			return
		}
	}
}

func (a *Application) initDebugServer(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.Handler())

	a.debugSrv = &http.Server{Handler: mux}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	go func() { _ = a.debugSrv.Serve(ln) }()
	log.Infof("debug server listening at %d...", port)
	return nil
}

func (a *Application) waitForStopSignal() os.Signal {
	signal.Notify(a.waitStopCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	return <-a.waitStopCh
}

func (a *Application) gracefullyShutdown() error {
	// wait until application has been shut down
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(a.shutDownWaitSecs))
	defer cancel()

	select {
	case <-a.shutdown(ctx):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Application) shutdown(ctx context.Context) <-chan bool {
	c := make(chan bool, 1)
	go func() {
		close(a.expireStopCh)

		if a.debugSrv != nil {
			_ = a.debugSrv.Shutdown(ctx)
		}
		if a.mux != nil {
			_ = a.mux.Shutdown(ctx)
		}
		_ = a.c2s.Shutdown(ctx)

		if a.comps != nil {
			_ = a.comps.Shutdown(ctx)
		}
		if a.s2s != nil {
			_ = a.s2s.Shutdown(ctx)
		}
		if a.cluster != nil {
			if err := a.cluster.Shutdown(); err != nil {
				log.Error(err)
			}
		}
		log.Unset()
		c <- true
	}()
	return c
}
