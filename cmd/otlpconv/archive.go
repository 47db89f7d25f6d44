package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zmzlois/browser-thing/internal/exporter"
)

type archiveOptions struct {
	path string
}

func newArchiveCommand(opts *rootOptions) *cobra.Command {
	archiveOpts := &archiveOptions{}

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect archived export requests",
	}
	cmd.PersistentFlags().StringVar(&archiveOpts.path, "path", "", "archive file (defaults to OTLPCONV_ARCHIVE_PATH)")

	cmd.AddCommand(
		newArchiveListCommand(opts, archiveOpts),
		newArchiveDumpCommand(opts, archiveOpts),
		newArchivePruneCommand(opts, archiveOpts),
	)
	return cmd
}

func newArchiveListCommand(opts *rootOptions, archiveOpts *archiveOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived requests, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withArchive(opts, archiveOpts, func(archive *exporter.Archive) error {
				entries, err := archive.List(limit)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTIME\tBYTES")
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\t%d\n", e.ID, e.Time.UTC().Format(time.RFC3339Nano), e.Size)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of entries, 0 for all")
	return cmd
}

func newArchiveDumpCommand(opts *rootOptions, archiveOpts *archiveOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "dump ID",
		Short: "Write an archived request body to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(opts, archiveOpts, func(archive *exporter.Archive) error {
				payload, err := archive.Get(args[0])
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), output, payload)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file, - for stdout")
	return cmd
}

func newArchivePruneCommand(opts *rootOptions, archiveOpts *archiveOptions) *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete archived requests older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("retention") {
				cfg, err := exporter.LoadConfig()
				if err != nil {
					return err
				}
				retention = cfg.ArchiveRetention
			}

			return withArchive(opts, archiveOpts, func(archive *exporter.Archive) error {
				removed, err := archive.Prune(time.Now().Add(-retention))
				if err != nil {
					return err
				}
				opts.logger.Info("Pruned archive", zap.Int("removed", removed), zap.Duration("retention", retention))
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&retention, "retention", 0, "keep entries newer than this (defaults to OTLPCONV_ARCHIVE_RETENTION)")
	return cmd
}

func withArchive(opts *rootOptions, archiveOpts *archiveOptions, fn func(*exporter.Archive) error) error {
	path := archiveOpts.path
	if path == "" {
		cfg, err := exporter.LoadConfig()
		if err != nil {
			return err
		}
		path = cfg.ArchivePath
	}
	if path == "" {
		return fmt.Errorf("no archive configured, set --path or OTLPCONV_ARCHIVE_PATH")
	}

	archive, err := exporter.OpenArchive(path, nil, opts.logger)
	if err != nil {
		return err
	}
	defer archive.Close()

	return fn(archive)
}
