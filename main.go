// rynk - a streaming chat client for the rynk backend.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rynk-ai/rynk-go/internal/cli"
	"github.com/rynk-ai/rynk-go/internal/credit"
)

// Version information (set at build time)
var (
	Version   = "0.2.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse()

	var err error
	switch cmd {
	case cli.CmdSend:
		err = cli.HandleSend(args)
	case cli.CmdList:
		err = cli.HandleList(args)
	case cli.CmdVersion:
		cli.HandleVersion()
	case cli.CmdHelp:
		cli.PrintHelp()
	}

	if err != nil {
		if errors.Is(err, credit.ErrExhausted) {
			fmt.Fprintln(os.Stderr, "Out of guest credits. Sign in to continue.")
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
