// Soft travel limits
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/motion"
)

const limitEps = 1e-6

// CheckPosition validates p against the enabled soft limits.
func (c Config) CheckPosition(p motion.Position) error {
	for ax := motion.X; ax < motion.NumAxes; ax++ {
		lim := c.Limits[ax]
		if !lim.Enabled {
			continue
		}
		if p[ax] < lim.Min-limitEps || p[ax] > lim.Max+limitEps {
			return cncerr.SoftLimitError(ax.String(), p[ax], lim.Min, lim.Max)
		}
	}
	return nil
}

// checkMove validates the end point of a move and, for arcs, every point
// where the arc reaches an extreme in one of its plane axes.
func (c Config) checkMove(cmd motion.Command, arc *Arc) error {
	if err := c.CheckPosition(cmd.Target); err != nil {
		return err
	}
	if arc == nil {
		return nil
	}
	for _, p := range arc.Extremes() {
		if err := c.CheckPosition(p); err != nil {
			return err
		}
	}
	return nil
}
