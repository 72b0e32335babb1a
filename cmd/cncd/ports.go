// cncd ports
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"fmt"

	"modax-cnc/pkg/serial"

	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial devices usable as the [fieldlink] device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := serial.ListPorts()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(ports) == 0 {
			fmt.Fprintln(out, "no serial devices found")
			return nil
		}
		for _, p := range ports {
			state := "busy"
			if serial.IsDeviceAvailable(p) {
				state = "available"
			}
			fmt.Fprintf(out, "%-32s %s\n", p, state)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
