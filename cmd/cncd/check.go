// cncd check
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/gcode"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check program...",
	Short: "Parse programs and report load-time errors",
	Long: `Parses each program, builds its label index and validates every
statically known jump and call target. All errors of a program are
reported, one per line, as file:line: [CODE] message.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		if !checkProgram(out, path) {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d programs failed", failed, len(args))
	}
	return nil
}

// checkProgram reports on one file and returns whether it loads.
func checkProgram(out io.Writer, path string) bool {
	text, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(out, "%s: %v\n", path, err)
		return false
	}
	prog, err := gcode.ParseProgram(filepath.Base(path), string(text))
	if err != nil {
		var list cncerr.List
		if !errors.As(err, &list) {
			fmt.Fprintf(out, "%s: %v\n", path, err)
			return false
		}
		for _, ce := range list {
			fmt.Fprintf(out, "%s:%d: [%s] %s\n", path, ce.Line, ce.Code, describe(ce))
		}
		return false
	}
	for _, w := range prog.Warnings {
		fmt.Fprintf(out, "%s: warning: %s\n", path, w)
	}
	fmt.Fprintf(out, "%s: ok (%d blocks, %d labels)\n", path, prog.Len(), len(prog.Labels()))
	return true
}

func describe(ce *cncerr.CNCError) string {
	if ce.Token != "" {
		return fmt.Sprintf("%s (token %q)", ce.Message, ce.Token)
	}
	return ce.Message
}
