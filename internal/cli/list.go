// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rynk-ai/rynk-go/internal/api"
	"github.com/rynk-ai/rynk-go/internal/config"
	"github.com/rynk-ai/rynk-go/internal/storage"
	"github.com/rynk-ai/rynk-go/internal/util"
)

// HandleList prints the conversation list, falling back to the local cache
// when the backend is unreachable.
func HandleList(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	client := api.NewClient(cfg.API.BaseURL).
		WithToken(cfg.API.Token).
		WithTimeout(time.Duration(cfg.API.TimeoutSecs) * time.Second).
		WithMaxRetries(cfg.API.MaxRetries)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	list, err := client.ListConversations(ctx)
	if err != nil && cfg.Cache.Enabled {
		path, pathErr := cfg.CachePath()
		if pathErr == nil {
			if cache, openErr := storage.Open(path); openErr == nil {
				defer cache.Close()
				if cached, cacheErr := cache.Conversations(ctx); cacheErr == nil {
					fmt.Println("(offline, showing cached conversations)")
					list = cached
					err = nil
				}
			}
		}
	}
	if err != nil {
		return err
	}

	if len(list) == 0 {
		fmt.Println("No conversations yet.")
		return nil
	}

	for _, conv := range list {
		pin := " "
		if conv.IsPinned {
			pin = "*"
		}
		fmt.Printf("%s %-24s %s\n", pin, conv.ID, util.TruncateRunes(conv.GetTitle(), 50))
	}
	return nil
}
