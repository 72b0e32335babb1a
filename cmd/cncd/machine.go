// Machine assembly shared by the cncd commands
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"modax-cnc/pkg/config"
	"modax-cnc/pkg/controller"
	"modax-cnc/pkg/coords"
	"modax-cnc/pkg/log"
	"modax-cnc/pkg/motion"
	"modax-cnc/pkg/planner"
	"modax-cnc/pkg/tools"
)

// loadMachine reads path, or returns the defaults when path is empty.
func loadMachine(path string) (*config.MachineConfig, error) {
	if path == "" {
		return config.DefaultMachine(), nil
	}
	c, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	m, err := config.LoadMachine(c)
	if err != nil {
		return nil, err
	}
	for _, name := range c.UnusedSections() {
		log.GetLogger("cncd").WithField("section", name).Warn("unused config section")
	}
	return m, nil
}

// setupLogging applies the [log] section. The returned function closes
// the log file, if any.
func setupLogging(s config.LogSettings) (func(), error) {
	level := s.Level
	if logLevel != "" {
		level = logLevel
	}
	opts := log.Options{Level: level, Format: s.Format}
	closer := func() {}
	if s.File != "" {
		w, err := log.NewRotatingFileWriter(log.RotationConfig{
			Filename:   s.File,
			MaxSize:    s.MaxSize,
			MaxBackups: s.MaxBackups,
			Compress:   s.Compress,
		})
		if err != nil {
			return nil, err
		}
		opts.Writer = io.MultiWriter(os.Stderr, w)
		opts.NoColor = true
		closer = func() { w.Close() }
	}
	log.Configure(opts)
	return closer, nil
}

// machineDeps builds the coordinate and tool managers from the imported
// offset and tool tables.
func machineDeps(m *config.MachineConfig) (controller.Deps, error) {
	cm := coords.New()
	if m.OffsetsFile != "" {
		table, err := config.LoadOffsetTable(m.OffsetsFile)
		if err != nil {
			return controller.Deps{}, err
		}
		if err := cm.Load(table); err != nil {
			return controller.Deps{}, err
		}
	}
	tm := tools.NewManager(m.Magazine.Slots)
	tm.SetWearWarning(m.Magazine.WearWarning)
	if m.Magazine.ToolTable != "" {
		table, err := config.LoadToolTable(m.Magazine.ToolTable)
		if err != nil {
			return controller.Deps{}, err
		}
		if err := tm.LoadTable(table); err != nil {
			return controller.Deps{}, err
		}
	}
	return controller.Deps{Coords: cm, Tools: tm}, nil
}

// machineDispatcher stands in for the drive interface. It logs every
// gated command, accumulates the planned execution time and optionally
// waits it out.
type machineDispatcher struct {
	logger   *log.Logger
	realtime bool

	mu       sync.Mutex
	elapsed  time.Duration
	commands map[motion.Kind]int
}

func newMachineDispatcher(realtime bool) *machineDispatcher {
	return &machineDispatcher{
		logger:   log.GetLogger("dispatch"),
		realtime: realtime,
		commands: make(map[motion.Kind]int),
	}
}

func (d *machineDispatcher) Dispatch(ctx context.Context, seg *planner.Segment) error {
	cmd := &seg.Command
	var dur time.Duration
	switch {
	case seg.IsMotion():
		dur = time.Duration(seg.Profile.Duration() * float64(time.Second))
	case cmd.Kind == motion.KindDwell:
		dur = time.Duration(cmd.Dwell * float64(time.Second))
	}
	d.logger.WithFields(log.Fields{"line": cmd.Line, "seq": seg.Seq, "duration": dur.String()}).Debug("%s", cmd)

	d.mu.Lock()
	d.elapsed += dur
	d.commands[cmd.Kind]++
	d.mu.Unlock()

	if !d.realtime || dur <= 0 {
		return nil
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// summary returns the accumulated time and per-kind command counts.
func (d *machineDispatcher) summary() (time.Duration, map[motion.Kind]int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	counts := make(map[motion.Kind]int, len(d.commands))
	for k, n := range d.commands {
		counts[k] = n
	}
	return d.elapsed, counts
}
