// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides argument parsing and command handlers for the rynk
// command line interface.
package cli

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rynk-ai/rynk-go/internal/api"
	"github.com/rynk-ai/rynk-go/internal/config"
	"github.com/rynk-ai/rynk-go/internal/conversation"
	"github.com/rynk-ai/rynk-go/internal/jobs"
	"github.com/rynk-ai/rynk-go/internal/storage"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.2.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdSend Command = iota
	CmdList
	CmdVersion
	CmdHelp
)

// Parse parses os.Args into a command and its remaining arguments.
func Parse() (Command, []string) {
	if len(os.Args) < 2 {
		return CmdHelp, nil
	}

	switch os.Args[1] {
	case "send":
		return CmdSend, os.Args[2:]
	case "list", "ls":
		return CmdList, os.Args[2:]
	case "version", "--version", "-v":
		return CmdVersion, nil
	case "help", "--help", "-h":
		return CmdHelp, nil
	default:
		// Bare text is a send.
		return CmdSend, os.Args[1:]
	}
}

// PrintHelp prints usage information.
func PrintHelp() {
	fmt.Println(`rynk - streaming chat client

Usage:
  rynk send <message>        Send a message and stream the reply
  rynk send -c <id> <msg>    Continue an existing conversation
  rynk list                  List conversations
  rynk version               Show version information
  rynk help                  Show this help

Environment:
  RYNK_BASE_URL   Backend API base URL
  RYNK_TOKEN      Bearer token (empty = guest mode)
  RYNK_NO_CACHE   Set to 1 to disable the local history cache`)
}

// HandleVersion prints version information.
func HandleVersion() {
	fmt.Printf("rynk %s (%s) built %s, %s/%s\n",
		Version, GitCommit, BuildDate, runtime.GOOS, runtime.GOARCH)
}

// buildController wires config, client, cache and poller into a controller.
func buildController(cfg *config.Config) (*conversation.Controller, *storage.Cache, error) {
	client := api.NewClient(cfg.API.BaseURL).
		WithToken(cfg.API.Token).
		WithTimeout(time.Duration(cfg.API.TimeoutSecs) * time.Second).
		WithMaxRetries(cfg.API.MaxRetries)

	poller := jobs.NewPoller(cfg.Jobs.PollAttempts,
		time.Duration(cfg.Jobs.PollIntervalMS)*time.Millisecond)

	ctrl := conversation.NewController(client).WithTitlePoller(poller)

	var cache *storage.Cache
	if cfg.Cache.Enabled {
		path, err := cfg.CachePath()
		if err == nil {
			if cache, err = storage.Open(path); err == nil {
				ctrl.WithCache(cache)
			} else {
				fmt.Fprintf(os.Stderr, "Warning: cache disabled: %v\n", err)
				cache = nil
			}
		}
	}
	return ctrl, cache, nil
}
