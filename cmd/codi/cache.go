package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/bootstrap"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
)

func newCacheCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage response cache snapshots",
	}
	cmd.AddCommand(newCachePrewarmCommand(opts))
	cmd.AddCommand(newCacheCompactCommand(opts))
	cmd.AddCommand(newCacheInspectCommand(opts))
	return cmd
}

func newCachePrewarmCommand(opts *rootOptions) *cobra.Command {
	var (
		queriesPath  string
		snapshotPath string
	)
	cmd := &cobra.Command{
		Use:   "prewarm",
		Short: "Answer a list of queries and snapshot the results",
		Long: `Prewarm runs each query in the file through the configured LLM and writes
the filled cache to a snapshot. Serve the snapshot with --cache-snapshot so
the first users after a deploy hit warm entries. Lines starting with # are
skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, err := readQueryFile(queriesPath)
			if err != nil {
				return err
			}
			if len(queries) == 0 {
				return fmt.Errorf("no queries in %s", queriesPath)
			}

			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			rt, err := bootstrap.Build(cmd.Context(), cfg, bootstrap.Options{})
			if err != nil {
				return err
			}
			defer closeRuntime(rt, logging.NewComponentLogger("cache"))

			warmed, err := rt.Cache.PreWarm(cmd.Context(), queries)
			if err != nil {
				return fmt.Errorf("prewarm: %w", err)
			}
			if err := rt.Cache.Export(snapshotPath); err != nil {
				return fmt.Errorf("snapshot: %w", err)
			}

			if warmed < len(queries) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s warmed %d of %d queries (see logs for failures)\n",
					yellow("!"), warmed, len(queries))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s warmed %d queries\n", green("ok"), warmed)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "snapshot written to %s\n", snapshotPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&queriesPath, "queries", "", "File with one query per line")
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "Snapshot file to write")
	_ = cmd.MarkFlagRequired("queries")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

func newCacheCompactCommand(opts *rootOptions) *cobra.Command {
	var (
		inPath  string
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Rewrite a snapshot, dropping expired entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outPath == "" {
				outPath = inPath
			}
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			rt, err := bootstrap.Build(cmd.Context(), cfg, bootstrap.Options{})
			if err != nil {
				return err
			}
			defer closeRuntime(rt, logging.NewComponentLogger("cache"))

			kept, err := rt.Cache.Import(inPath)
			if err != nil {
				return fmt.Errorf("read snapshot: %w", err)
			}
			if err := rt.Cache.Export(outPath); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s kept %d live entries in %s\n", green("ok"), kept, outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "Snapshot file to compact")
	cmd.Flags().StringVar(&outPath, "out", "", "Output file (default: rewrite in place)")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func newCacheInspectCommand(opts *rootOptions) *cobra.Command {
	var snapshotPath string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show what a snapshot holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			rt, err := bootstrap.Build(cmd.Context(), cfg, bootstrap.Options{})
			if err != nil {
				return err
			}
			defer closeRuntime(rt, logging.NewComponentLogger("cache"))

			n, err := rt.Cache.Import(snapshotPath)
			if err != nil {
				return fmt.Errorf("read snapshot: %w", err)
			}
			stats := rt.Cache.Statistics()
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", bold(snapshotPath))
			fmt.Fprintf(cmd.OutOrStdout(), "  live entries: %d\n", n)
			fmt.Fprintf(cmd.OutOrStdout(), "  size:         %d bytes in memory\n", stats.Bytes)
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "Snapshot file to inspect")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

// readQueryFile loads one query per line, skipping blanks and comments.
func readQueryFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("query file: %w", err)
	}
	defer f.Close()

	var queries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		queries = append(queries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("query file: %w", err)
	}
	return queries, nil
}
