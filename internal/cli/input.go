// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// Input wraps liner with persistent input history under the data
// directory. Arrow keys navigate history; Ctrl+C aborts the prompt.
type Input struct {
	line        *liner.State
	historyFile string
}

// NewInput creates the line reader. dataDir may be empty to skip
// history persistence.
func NewInput(dataDir string) *Input {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	in := &Input{line: line}
	if dataDir != "" {
		in.historyFile = filepath.Join(dataDir, "input_history")
		in.loadHistory()
	}
	return in
}

func (in *Input) loadHistory() {
	if f, err := os.Open(in.historyFile); err == nil {
		in.line.ReadHistory(f)
		f.Close()
	}
}

// ReadLine reads one line with the given prompt and records non-empty
// input in history.
func (in *Input) ReadLine(prompt string) (string, error) {
	input, err := in.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		in.line.AppendHistory(input)
	}
	return input, nil
}

// saveHistory persists history with owner-only permissions.
func (in *Input) saveHistory() {
	if in.historyFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(in.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(in.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	in.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (in *Input) Close() {
	in.saveHistory()
	in.line.Close()
}
