package main

import (
	"fmt"

	"github.com/Aleph-Alpha/mediaindex/internal/config"
	"github.com/spf13/cobra"
)

type cli struct {
	cfgFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "mediaindex",
		Short: "Index uploaded media for semantic and keyword search",
		Long: `mediaindex stores uploaded images, extracts an embedding, a caption and
tags for each one, and serves semantic, keyword and hybrid search over them.

Example usage:
  mediaindex worker                          # consume jobs and run the sweeper
  mediaindex upload car.jpg --owner alice    # store and submit a file
  mediaindex list --owner alice --state failed
  mediaindex search hybrid "red car"         # query the index`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			c.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default is ./config.yaml when present)")

	root.AddCommand(
		c.workerCmd(),
		c.reconcileCmd(),
		c.uploadCmd(),
		c.submitCmd(),
		c.statusCmd(),
		c.listCmd(),
		c.setTagsCmd(),
		c.deleteCmd(),
		c.searchCmd(),
		c.tagsCmd(),
	)
	return root
}
