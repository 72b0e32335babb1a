// Program library
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package operator

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/gcode"
)

const maxProgramSize = 16 << 20

// ProgramInfo describes one stored program.
type ProgramInfo struct {
	Name     string  `json:"name"`
	Size     int64   `json:"size"`
	Modified float64 `json:"modified"`
	Blocks   int     `json:"blocks"`
	Errors   int     `json:"errors"`
}

// Library is a flat directory of part programs.
type Library struct {
	root string
}

// NewLibrary opens dir, creating it when missing.
func NewLibrary(dir string) (*Library, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, cncerr.Wrap(err, cncerr.ErrConfig, "invalid program directory")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, cncerr.Wrap(err, cncerr.ErrConfig, "create program directory")
	}
	return &Library{root: abs}, nil
}

// Root returns the library directory.
func (l *Library) Root() string { return l.root }

// path resolves name inside the library. Names are plain file names.
func (l *Library) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") ||
		strings.ContainsAny(name, `/\`) {
		return "", cncerr.Newf(cncerr.ErrInvalidArgument, "invalid program name %q", name)
	}
	return filepath.Join(l.root, name), nil
}

// List returns every program sorted by name, each parsed for its block
// and error counts.
func (l *Library) List() ([]ProgramInfo, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, cncerr.Wrap(err, cncerr.ErrRuntime, "read program directory")
	}
	out := make([]ProgramInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		info := ProgramInfo{
			Name:     e.Name(),
			Size:     fi.Size(),
			Modified: float64(fi.ModTime().UnixNano()) / 1e9,
		}
		if fi.Size() <= maxProgramSize {
			if text, err := os.ReadFile(filepath.Join(l.root, e.Name())); err == nil {
				info.Blocks, info.Errors = inspect(e.Name(), string(text))
			}
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func inspect(name, text string) (blocks, errs int) {
	prog, err := gcode.ParseProgram(name, text)
	var list cncerr.List
	switch {
	case errors.As(err, &list):
		errs = len(list)
	case err != nil:
		errs = 1
	}
	if prog != nil {
		blocks = prog.Len()
	}
	return blocks, errs
}

// Read returns the text of a stored program.
func (l *Library) Read(name string) (string, error) {
	p, err := l.path(name)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", cncerr.Newf(cncerr.ErrInvalidArgument, "program %q not found", name)
	}
	if err != nil {
		return "", cncerr.Wrap(err, cncerr.ErrRuntime, "stat program")
	}
	if fi.Size() > maxProgramSize {
		return "", cncerr.Newf(cncerr.ErrInvalidArgument, "program %q exceeds %d bytes", name, maxProgramSize)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", cncerr.Wrap(err, cncerr.ErrRuntime, "read program")
	}
	return string(b), nil
}

// Save stores text under name, replacing any existing program.
func (l *Library) Save(name, text string) (ProgramInfo, error) {
	p, err := l.path(name)
	if err != nil {
		return ProgramInfo{}, err
	}
	tmp, err := os.CreateTemp(l.root, ".upload-*")
	if err != nil {
		return ProgramInfo{}, cncerr.Wrap(err, cncerr.ErrRuntime, "save program")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return ProgramInfo{}, cncerr.Wrap(err, cncerr.ErrRuntime, "save program")
	}
	if err := tmp.Close(); err != nil {
		return ProgramInfo{}, cncerr.Wrap(err, cncerr.ErrRuntime, "save program")
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return ProgramInfo{}, cncerr.Wrap(err, cncerr.ErrRuntime, "save program")
	}
	fi, err := os.Stat(p)
	if err != nil {
		return ProgramInfo{}, cncerr.Wrap(err, cncerr.ErrRuntime, "save program")
	}
	info := ProgramInfo{Name: name, Size: fi.Size(), Modified: float64(fi.ModTime().UnixNano()) / 1e9}
	info.Blocks, info.Errors = inspect(name, text)
	return info, nil
}

// Delete removes a stored program.
func (l *Library) Delete(name string) error {
	p, err := l.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cncerr.Newf(cncerr.ErrInvalidArgument, "program %q not found", name)
		}
		return cncerr.Wrap(err, cncerr.ErrRuntime, "delete program")
	}
	return nil
}
