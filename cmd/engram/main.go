// Command engram is the CLI front-end for the cognitive memory engine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/engramdb/engram/cognitive"
	"github.com/engramdb/engram/cognitive/store/chromem"
	"github.com/engramdb/engram/cognitive/store/sqlite"
	enginesync "github.com/engramdb/engram/cognitive/sync"
)

var (
	flagDB      string
	flagVectors string
	flagProject string
)

func main() {
	root := &cobra.Command{
		Use:           "engram",
		Short:         "Cognitive memory engine for long-running assistants",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagDB, "db", "engram.db", "metadata database path")
	root.PersistentFlags().StringVar(&flagVectors, "vectors", "", "vector store directory (empty: in-memory)")
	root.PersistentFlags().StringVar(&flagProject, "project", "", "project scope for collection names")

	root.AddCommand(storeCmd(), recallCmd(), consolidateCmd(), statsCmd(),
		loadCmd(), watchCmd(), rmSourceCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openSystem(ctx context.Context, opts ...cognitive.SystemOption) (*cognitive.System, error) {
	cfg := cognitive.FromEnv()
	cfg.Project = flagProject

	var vectors cognitive.VectorIndex
	var err error
	if flagVectors != "" {
		vectors, err = chromem.NewPersistent(flagVectors, flagProject)
	} else {
		vectors, err = chromem.New(flagProject)
	}
	if err != nil {
		return nil, err
	}

	meta, err := sqlite.Open(flagDB)
	if err != nil {
		return nil, err
	}

	encoder := cognitive.NewEncoder(newEmbedder(), cfg.FusionAlpha)
	return cognitive.NewSystem(ctx, encoder, vectors, meta, cfg, opts...)
}

func storeCmd() *cobra.Command {
	var level int
	var parent, source string
	cmd := &cobra.Command{
		Use:   "store <text>",
		Short: "Store an experience",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sys, err := openSystem(ctx)
			if err != nil {
				return err
			}
			defer sys.Close()

			opts := &cognitive.StoreOptions{ParentID: parent, SourcePath: source}
			if level >= 0 {
				l := cognitive.Level(level)
				opts.LevelHint = &l
			}
			m, err := sys.Store(ctx, args[0], opts)
			if err != nil {
				return err
			}
			fmt.Printf("stored %s (level %s)\n", m.ID, m.Level)
			for name, v := range m.Dimensions {
				if v != 0 {
					fmt.Printf("  %s: %.2f\n", name, v)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&level, "level", -1, "hierarchy level (0 concept, 1 context, 2 episode)")
	cmd.Flags().StringVar(&parent, "parent", "", "parent memory id")
	cmd.Flags().StringVar(&source, "source", "", "source path")
	return cmd
}

func recallCmd() *cobra.Command {
	var kCore, kPeripheral, kBridge int
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Retrieve memories for a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			sys, err := openSystem(ctx)
			if err != nil {
				return err
			}
			defer sys.Close()

			result, err := sys.Recall(ctx, args[0], &cognitive.RecallOptions{
				KCore: kCore, KPeripheral: kPeripheral, KBridge: kBridge,
			})
			if err != nil {
				return err
			}
			printSection("core", result.Core)
			printSection("peripheral", result.Peripheral)
			printSection("bridges", result.Bridges)
			return nil
		},
	}
	cmd.Flags().IntVar(&kCore, "core", 10, "max core results")
	cmd.Flags().IntVar(&kPeripheral, "peripheral", 10, "max peripheral results")
	cmd.Flags().IntVar(&kBridge, "bridges", 5, "max bridge results")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "recall deadline")
	return cmd
}

func printSection(name string, items []cognitive.ScoredMemory) {
	if len(items) == 0 {
		return
	}
	fmt.Printf("%s:\n", name)
	for _, sm := range items {
		fmt.Printf("  [%.2f] %s: %s (%s)\n", sm.Score, sm.Memory.ID, firstLine(sm.Memory.Content), sm.Why)
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
		if i > 80 {
			return s[:i] + "..."
		}
	}
	return s
}

func consolidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate",
		Short: "Run one decay/promotion/eviction pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sys, err := openSystem(ctx)
			if err != nil {
				return err
			}
			defer sys.Close()
			report, err := sys.Consolidate(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("evicted %d, promoted %d, retained %d\n",
				report.Evicted, report.Promoted, report.Retained)
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show memory counts and health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sys, err := openSystem(ctx)
			if err != nil {
				return err
			}
			defer sys.Close()
			stats, err := sys.Stats(ctx)
			if err != nil {
				return err
			}
			for _, level := range cognitive.Levels {
				fmt.Printf("%-8s %d\n", level.String(), stats.MemoryCounts[level])
			}
			fmt.Printf("edges    %d\n", stats.EdgeCount)
			fmt.Printf("bridge cache hit rate %.2f (%d/%d)\n",
				stats.BridgeHitRate, stats.BridgeHits, stats.BridgeHits+stats.BridgeMisses)
			return nil
		},
	}
}

func loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <path>",
		Short: "Load memories from a file or git repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sys, err := openSystem(ctx)
			if err != nil {
				return err
			}
			defer sys.Close()

			registry := enginesync.NewRegistry(enginesync.MarkdownLoader{}, enginesync.GitLoader{})
			loader, err := registry.Find(args[0])
			if err != nil {
				return err
			}
			candidates, err := loader.Load(ctx, args[0])
			if err != nil {
				return err
			}
			idByKey := make(map[string]string, len(candidates))
			for _, c := range candidates {
				level := c.Level
				opts := &cognitive.StoreOptions{LevelHint: &level, SourcePath: args[0]}
				if c.ParentKey != "" {
					opts.ParentID = idByKey[c.ParentKey]
				}
				m, err := sys.Store(ctx, c.Text, opts)
				if err != nil {
					return err
				}
				idByKey[c.Key] = m.ID
			}
			fmt.Printf("loaded %d memories from %s (%s loader)\n",
				len(candidates), args[0], loader.Name())
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	var interval time.Duration
	var ignore []string
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Watch a directory and keep memories in sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			detector, err := enginesync.NewDetector(enginesync.DetectorConfig{
				Root:     args[0],
				Interval: interval,
				Ignore:   ignore,
				Hints:    true,
			})
			if err != nil {
				return err
			}
			registry := enginesync.NewRegistry(enginesync.MarkdownLoader{})

			var engine *enginesync.Engine
			sys, err := openSystem(ctx, cognitive.WithSyncHealth(func() cognitive.SyncHealth {
				if engine == nil {
					return cognitive.SyncHealth{}
				}
				return engine.Health()
			}))
			if err != nil {
				return err
			}
			defer sys.Close()

			engine = enginesync.NewEngine(sys, registry, detector, 4)
			sys.StartMaintenance(ctx)
			fmt.Printf("watching %s (interval %s)\n", args[0], interval)
			engine.Run(ctx)
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "poll interval")
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "glob patterns to skip")
	return cmd
}

func rmSourceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm-source <path>",
		Short: "Delete all memories loaded from a source path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sys, err := openSystem(ctx)
			if err != nil {
				return err
			}
			defer sys.Close()
			n, err := sys.DeleteBySource(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d memories\n", n)
			return nil
		},
	}
}
