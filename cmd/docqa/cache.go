package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/docqa/backend/internal/cache/redis"
)

var errCacheDisabled = errors.New("redis embedding cache is disabled (redis.enabled=false)")

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the redis embedding cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached embedding",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	cfg := appConfig.Redis
	if !cfg.Enabled {
		return errCacheDisabled
	}

	cache, err := redis.NewClient(cmd.Context(), cfg.Host, cfg.Port, cfg.Password, cfg.DB,
		time.Duration(cfg.EmbeddingTTLHours)*time.Hour)
	if err != nil {
		return err
	}
	defer cache.Close()

	removed, err := cache.InvalidateEmbeddings(cmd.Context())
	if err != nil {
		return err
	}
	cmd.Printf("removed %d cached embeddings\n", removed)
	return nil
}
