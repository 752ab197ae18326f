// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/rynk-ai/rynk-go/internal/chat"
	"github.com/rynk-ai/rynk-go/internal/config"
	"github.com/rynk-ai/rynk-go/internal/protocol"
)

// HandleSend sends one message and streams the reply to stdout.
func HandleSend(args []string) error {
	parsed := NewArgParser(args)
	content := strings.Join(parsed.Positional(), " ")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctrl, cache, err := buildController(cfg)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ctrl-C aborts the stream; partial content stays.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		ctrl.Abort()
	}()

	if conversationID := parsed.Flag("c"); conversationID != "" {
		conv := &chat.Conversation{ID: conversationID}
		if err := ctrl.SelectConversation(ctx, conv); err != nil {
			return err
		}
	}

	// Content events carry the full accumulated text; print only the
	// unseen suffix.
	var printMu sync.Mutex
	printed := 0
	ctrl.SetEventHandler(func(ev protocol.Event) {
		printMu.Lock()
		defer printMu.Unlock()
		switch ev.Kind {
		case protocol.EventContent:
			if len(ev.Text) > printed {
				fmt.Print(ev.Text[printed:])
				printed = len(ev.Text)
			}
		case protocol.EventStatus:
			if ev.Phase != protocol.PhaseComplete {
				fmt.Fprintf(os.Stderr, "[%s] %s\n", ev.Phase, ev.Message)
			}
		}
	})

	if err := ctrl.Send(ctx, content); err != nil {
		return err
	}
	fmt.Println()

	if remaining, known := ctrl.CreditsRemaining(); known {
		fmt.Fprintf(os.Stderr, "%d guest credits remaining\n", remaining)
	}
	return nil
}
