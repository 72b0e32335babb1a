// cncd serve
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"modax-cnc/pkg/config"
	"modax-cnc/pkg/controller"
	"modax-cnc/pkg/fieldlink"
	"modax-cnc/pkg/log"
	"modax-cnc/pkg/metrics"
	"modax-cnc/pkg/operator"
	"modax-cnc/pkg/safety"
	"modax-cnc/pkg/serial"

	"github.com/spf13/cobra"
)

var (
	serveAddr     string
	serveProgram  string
	serveRealtime bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the controller with the operator API and field link",
	Long: `Starts the controller, connects the field link named in [fieldlink]
and serves the operator API (JSON-RPC over HTTP and websocket, REST
status and Prometheus metrics) until interrupted.

With transport "none" the safety status is a static safe record; use
this only on a bench without moving axes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides [server] address)")
	serveCmd.Flags().StringVar(&serveProgram, "program", "", "part program loaded at startup")
	serveCmd.Flags().BoolVar(&serveRealtime, "realtime", true, "wait out planned segment durations in the dispatcher")
	rootCmd.AddCommand(serveCmd)
}

// staticSafety reports whether the machine runs without a field link.
func staticSafety(m *config.MachineConfig) bool {
	t := strings.ToLower(m.FieldLink.Transport)
	return t == "" || t == fieldlink.TransportNone
}

// serialDeviceMissing reports a serial field link whose tty cannot be
// opened right now. Unix socket devices are not checked.
func serialDeviceMissing(cfg fieldlink.Config) bool {
	if !strings.EqualFold(cfg.Transport, fieldlink.TransportSerial) || strings.HasPrefix(cfg.Device, "unix:") {
		return false
	}
	return !serial.IsDeviceAvailable(cfg.Device)
}

func runServe(cmd *cobra.Command, args []string) error {
	m, err := loadMachine(cfgFile)
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(m.Log)
	if err != nil {
		return err
	}
	defer closeLog()
	logger := log.GetLogger("cncd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewMachine()

	scfg := safety.Config{StaleTimeout: m.StaleTimeout}
	static := staticSafety(m)
	if static {
		scfg.StaleTimeout = 0
	}
	mon := safety.NewMonitor(scfg)
	mon.OnChange(func(st safety.Status) { reg.SetSafe(st.Safe) })

	var link fieldlink.Runner
	if static {
		mon.Update(safety.Status{Safe: true, Source: "static"})
		logger.Warn("no field link configured, safety status is static")
	} else {
		fcfg := fieldlink.ConfigFromMachine(m)
		fcfg.Metrics = reg
		if link, err = fieldlink.New(fcfg, mon); err != nil {
			return err
		}
		if serialDeviceMissing(fcfg) {
			logger.WithField("device", fcfg.Device).Warn("field device not present, machine stays unsafe until it appears")
		}
	}
	mon.Start(ctx)
	defer mon.Stop()

	deps, err := machineDeps(m)
	if err != nil {
		return err
	}
	deps.Dispatcher = newMachineDispatcher(serveRealtime)
	deps.Safety = mon
	deps.Metrics = reg
	ctrl, err := controller.New(controller.Config{Machine: m}, deps)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	if serveProgram != "" {
		text, err := os.ReadFile(serveProgram)
		if err != nil {
			return err
		}
		if err := ctrl.LoadProgram(filepath.Base(serveProgram), string(text)); err != nil {
			return err
		}
	}

	addr := m.Server.Address
	if serveAddr != "" {
		addr = serveAddr
	}
	srv, err := operator.New(operator.Config{
		Addr:           addr,
		Machine:        ctrl,
		Metrics:        reg,
		StatusInterval: m.Server.StatusInterval,
		ProgramDir:     m.Server.ProgramDir,
	})
	if err != nil {
		return err
	}

	errc := make(chan error, 2)
	go func() { errc <- srv.Start() }()
	if link != nil {
		go func() {
			if err := link.Run(ctx); err != nil && ctx.Err() == nil {
				errc <- err
			}
		}()
	}
	logger.WithFields(log.Fields{
		"machine":   m.Name,
		"addr":      addr,
		"fieldlink": m.FieldLink.Transport,
	}).Info("cncd running")

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errc:
		if err != nil {
			logger.WithError(err).Error("service failed")
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	return err
}
