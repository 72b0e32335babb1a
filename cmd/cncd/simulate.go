// cncd simulate
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"time"

	"modax-cnc/pkg/config"
	"modax-cnc/pkg/controller"
	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/motion"
	"modax-cnc/pkg/safety"

	"github.com/spf13/cobra"
)

var (
	simMode    string
	simDryRun  bool
	simJSON    bool
	simTimeout time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate program",
	Short: "Run a program without hardware and print a summary",
	Long: `Runs the program through the interpreter, planner and safety gate
with a static safe status and a dispatcher that only accumulates the
planned execution time. Mode SIMULATION skips the dispatcher entirely,
so no time estimate is produced.`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVar(&simMode, "mode", "AUTO", "operating mode: AUTO, DRY_RUN or SIMULATION")
	simulateCmd.Flags().BoolVar(&simDryRun, "dry-run", false, "shorthand for --mode DRY_RUN")
	simulateCmd.Flags().BoolVar(&simJSON, "json", false, "print the summary as JSON")
	simulateCmd.Flags().DurationVar(&simTimeout, "timeout", 5*time.Minute, "abort the run after this long")
	rootCmd.AddCommand(simulateCmd)
}

type simSummary struct {
	Program     string             `json:"program"`
	Mode        string             `json:"mode"`
	Result      string             `json:"result"`
	Blocks      int                `json:"blocks"`
	Commands    int                `json:"commands"`
	PlannedTime float64            `json:"planned_time"` // seconds
	ByKind      map[string]int     `json:"by_kind"`
	Position    motion.Position    `json:"position"`
	ActiveTool  int                `json:"active_tool"`
	WCS         string             `json:"wcs"`
	Errors      []controller.Event `json:"errors"`
	Warnings    []controller.Event `json:"warnings"`
}

func runSimulate(cmd *cobra.Command, args []string) error {
	m, err := loadMachine(cfgFile)
	if err != nil {
		return err
	}
	if logLevel == "" {
		m.Log.Level = "warn"
	}
	m.Log.File = ""
	closeLog, err := setupLogging(m.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	mode := simMode
	if simDryRun {
		mode = "DRY_RUN"
	}
	om, err := controller.ParseMode(mode)
	if err != nil {
		return err
	}
	text, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, simTimeout)
	defer cancel()

	sum, err := simulate(ctx, m, om, filepath.Base(args[0]), string(text))
	if sum != nil {
		printSummary(cmd.OutOrStdout(), sum)
	}
	return err
}

// simulate runs one program to completion on a bench controller.
func simulate(ctx context.Context, m *config.MachineConfig, mode controller.OperatingMode, name, text string) (*simSummary, error) {
	mon := safety.NewMonitor(safety.Config{})
	mon.Update(safety.Status{Safe: true, Source: "simulation"})

	deps, err := machineDeps(m)
	if err != nil {
		return nil, err
	}
	disp := newMachineDispatcher(false)
	deps.Dispatcher = disp
	deps.Safety = mon
	ctrl, err := controller.New(controller.Config{Machine: m}, deps)
	if err != nil {
		return nil, err
	}
	defer ctrl.Close()

	if err := ctrl.SetMode(mode); err != nil {
		return nil, err
	}
	if err := ctrl.LoadProgram(name, text); err != nil {
		return nil, err
	}
	if err := ctrl.Start(); err != nil {
		return nil, err
	}
	if err := ctrl.WaitIdle(ctx); err != nil {
		ctrl.Stop()
		return nil, cncerr.Wrap(err, cncerr.ErrRuntime, "simulation did not finish")
	}

	st := ctrl.Status()
	elapsed, counts := disp.summary()
	sum := &simSummary{
		Program:     name,
		Mode:        st.Mode.String(),
		PlannedTime: elapsed.Seconds(),
		ByKind:      make(map[string]int, len(counts)),
		Position:    st.Position,
		ActiveTool:  st.ActiveTool,
		WCS:         st.WCS,
		Errors:      st.Errors,
		Warnings:    st.Warnings,
	}
	for k, n := range counts {
		sum.ByKind[k.String()] = n
	}
	if st.Run != nil {
		sum.Result = string(st.Run.Result)
		sum.Blocks = st.Run.Blocks
		sum.Commands = st.Run.Commands
	}
	if st.State == controller.StateError && st.LastError != nil {
		return sum, cncerr.Newf(cncerr.ErrRuntime, "program failed: [%s] %s", st.LastError.Code, st.LastError.Message).
			SetLine(st.LastError.Line)
	}
	return sum, nil
}

func printSummary(out io.Writer, s *simSummary) {
	if simJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.Encode(s)
		return
	}
	fmt.Fprintf(out, "program:   %s (%s)\n", s.Program, s.Mode)
	fmt.Fprintf(out, "result:    %s\n", s.Result)
	fmt.Fprintf(out, "blocks:    %d\n", s.Blocks)
	fmt.Fprintf(out, "commands:  %d\n", s.Commands)
	if s.Mode != controller.ModeSimulation.String() {
		fmt.Fprintf(out, "planned:   %s\n", time.Duration(s.PlannedTime*float64(time.Second)).Round(time.Millisecond))
	}
	kinds := make([]string, 0, len(s.ByKind))
	for k := range s.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(out, "  %-12s %d\n", k, s.ByKind[k])
	}
	fmt.Fprintf(out, "position:  %s\n", s.Position)
	fmt.Fprintf(out, "tool:      T%d  wcs %s\n", s.ActiveTool, s.WCS)
	for _, e := range s.Warnings {
		fmt.Fprintf(out, "warning:   line %d [%s] %s\n", e.Line, e.Code, e.Message)
	}
	for _, e := range s.Errors {
		fmt.Fprintf(out, "error:     line %d [%s] %s\n", e.Line, e.Code, e.Message)
	}
}
