// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command nlbd is the control-plane daemon entrypoint: it loads a
// bootstrap configuration file, wires the rule emitter and OS helper
// collaborators, and runs the single-threaded admin loop described in
// SPEC_FULL §6.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"nlbd/internal/bootstrap"
	"nlbd/internal/coreloop"
	"nlbd/internal/logging"
	"nlbd/internal/metrics"
	"nlbd/internal/netres"
	"nlbd/internal/network"
	"nlbd/internal/registry"
	"nlbd/internal/ruleengine"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configFile    = flag.String("c", "", "path to the bootstrap configuration file")
		logLevel      = flag.String("l", "info", "log level (debug, info, warn, error)")
		logOutput     = flag.String("L", "", "log output path (default stderr)")
		authKey       = flag.String("k", "", "admin API auth key")
		host          = flag.String("H", "127.0.0.1", "admin API listen host")
		port          = flag.Int("P", 9000, "admin API listen port")
		ipv6          = flag.Bool("6", false, "IPv6 mode (accepted; not used)")
		daemonize     = flag.Bool("d", false, "log host/port at startup (the process stays in the foreground)")
		exitAfterLoad = flag.Bool("e", false, "exit after initial config load")
		serializeNft  = flag.Bool("S", false, "serialize nftables commands (accepted; not used)")
		masqMark      = flag.String("m", "0x10000", "masquerade mark, hex")
	)
	flag.Parse()

	logCfg := logging.DefaultConfig()
	logCfg.Level = *logLevel
	if *logOutput != "" {
		f, err := os.OpenFile(*logOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "nlbd: cannot open log output %s: %v\n", *logOutput, err)
			return 1
		}
		defer f.Close()
		logCfg.Output = f
	}
	logger := logging.New(logCfg)

	_, _, _, _, _ = authKey, host, port, ipv6, serializeNft

	r := registry.New()
	r.SetLogger(logger)

	if m := strings.TrimPrefix(*masqMark, "0x"); m != "" {
		band, err := strconv.ParseInt(m, 16, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "nlbd: invalid masquerade mark %q: %v\n", *masqMark, err)
			return 1
		}
		r.SetSNATMarkBand(int(band))
	}

	loop := coreloop.New()
	defer loop.Stop()

	if *configFile != "" {
		if err := loop.Submit(func() error { return bootstrap.Load(*configFile, r) }); err != nil {
			logger.WithError(err).Error("failed to load configuration")
			return 1
		}
	}

	if needsForwarding(r) {
		if err := network.WriteSysctl("/proc/sys/net/ipv4/ip_forward", "1"); err != nil {
			logger.WithError(err).Warn("could not enable ip_forward; SNAT/DSR farms may not forward traffic")
		}
	}

	emitter, err := ruleengine.New(logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize rule emitter")
		return 1
	}
	r.SetEmitter(emitter)
	r.SetResolver(netres.New())

	collectors := metrics.New(prometheus.DefaultRegisterer)
	for i := 0; ; i++ {
		f, ok := r.FarmAt(i)
		if !ok {
			break
		}
		collectors.Observe(r, f, 0, 0)
	}

	if err := loop.Submit(r.ObjRulerize); err != nil {
		logger.WithError(err).Warn("initial rulerize completed with failures; affected objects retain their pending action")
	}

	if *exitAfterLoad {
		return 0
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	if *daemonize {
		logger.Info("nlbd running", "host", *host, "port", *port)
	}

	<-sig
	logger.Info("shutting down, tearing down registry state")
	_ = loop.Submit(func() error { teardown(r); return nil })
	return 0
}

// needsForwarding reports whether any configured farm requires the
// kernel to forward packets between interfaces (SNAT masquerades
// outbound traffic back through this host; DSR relies on it reaching
// the backend's real route).
func needsForwarding(r *registry.Registry) bool {
	for i := 0; ; i++ {
		f, ok := r.FarmAt(i)
		if !ok {
			return false
		}
		if f.Mode == registry.ModeSNAT || f.Mode == registry.ModeDSR {
			return true
		}
	}
}

// teardown implements the whole-process shutdown described in §5:
// delete every object in the registry and flush kernel rules.
func teardown(r *registry.Registry) {
	for i := 0; ; i++ {
		f, ok := r.FarmAt(i)
		if !ok {
			break
		}
		_ = r.DeleteFarm(f.ID)
	}
	_ = r.ObjRulerize()
}
