// Command embeddenator is a thin CLI shell around the Operations Surface
// (spec §6, §1: "out of core scope" — kept minimal by design). It never
// implements VSA logic itself; every subcommand is a flag parse followed
// by one ops/ call.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tzervas/embeddenator-core/config"
	"github.com/tzervas/embeddenator-core/elog"
	"github.com/tzervas/embeddenator-core/kernel"
	"github.com/tzervas/embeddenator-core/ops"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	root := &cobra.Command{
		Use:           "embeddenator",
		Short:         "content-addressed VSA storage substrate",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file (defaults baked in otherwise)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, error")

	loadConfig := func() (config.File, elog.Logger) {
		log := elog.New(os.Stderr, logLevel)
		if configPath == "" {
			return config.DefaultFile(), log
		}
		f, err := config.Load(configPath)
		if err != nil {
			log.Error("failed to load config, falling back to defaults", "error", err.Error())
			return config.DefaultFile(), log
		}
		return f, log
	}

	root.AddCommand(newIngestCmd(loadConfig))
	root.AddCommand(newExtractCmd(loadConfig))
	root.AddCommand(newQueryCmd(loadConfig))
	root.AddCommand(newBundleHierCmd(loadConfig))
	root.AddCommand(newUpdateCmd(loadConfig))
	root.AddCommand(newCompactCmd(loadConfig))
	return root
}

type configLoader func() (config.File, elog.Logger)

func newIngestCmd(loadConfig configLoader) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "ingest [paths...]",
		Short: "split and encode files into a new engram",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log := loadConfig()
			res, err := ops.Ingest(log, args, out, cfg.Vsa, kernel.DefaultBackend{})
			if err != nil {
				return err
			}
			fmt.Println(res.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "engram.bin", "engram output path")
	return cmd
}

func newExtractCmd(loadConfig configLoader) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "extract [engram]",
		Short: "reconstruct every file in an engram bit-exact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log := loadConfig()
			res, err := ops.Extract(log, args[0], outDir, cfg.Vsa)
			if err != nil {
				return err
			}
			fmt.Println(res.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", ".", "directory to extract into")
	return cmd
}

func newQueryCmd(loadConfig configLoader) *cobra.Command {
	var (
		queryFile string
		k         int
	)
	cmd := &cobra.Command{
		Use:   "query [engram]",
		Short: "find the k nearest chunks to a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log := loadConfig()
			data, err := os.ReadFile(queryFile)
			if err != nil {
				return fmt.Errorf("read --query-file: %w", err)
			}
			hits, err := ops.Query(log, args[0], data, k, cfg.Vsa, kernel.DefaultBackend{})
			if err != nil {
				return err
			}
			for _, h := range hits {
				fmt.Printf("%s\t%.6f\n", h.ChunkID, h.Score)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&queryFile, "query-file", "", "file whose bytes are encoded as the query")
	cmd.Flags().IntVar(&k, "k", 10, "number of results")
	_ = cmd.MarkFlagRequired("query-file")
	return cmd
}

func newBundleHierCmd(loadConfig configLoader) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "bundle-hier [engram]",
		Short: "build a hierarchical manifest and sub-engram directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log := loadConfig()
			res, err := ops.BundleHier(log, args[0], outDir, cfg.Vsa, cfg.Hierarchical, kernel.DefaultBackend{})
			if err != nil {
				return err
			}
			fmt.Println(res.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", "hier", "directory to write sub-engrams into")
	return cmd
}

func newUpdateCmd(loadConfig configLoader) *cobra.Command {
	var (
		adds     []string
		removes  []string
		modifies []string
	)
	cmd := &cobra.Command{
		Use:   "update [engram]",
		Short: "apply add/remove/modify diffs to an engram in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log := loadConfig()
			var specs []ops.UpdateSpec
			for _, a := range adds {
				path, dataPath, err := splitPathEqualsFile(a)
				if err != nil {
					return err
				}
				specs = append(specs, ops.UpdateSpec{Kind: "add", Path: path, DataPath: dataPath})
			}
			for _, m := range modifies {
				path, dataPath, err := splitPathEqualsFile(m)
				if err != nil {
					return err
				}
				specs = append(specs, ops.UpdateSpec{Kind: "modify", Path: path, DataPath: dataPath})
			}
			for _, r := range removes {
				specs = append(specs, ops.UpdateSpec{Kind: "remove", Path: r})
			}
			res, err := ops.Update(log, args[0], specs, cfg.Vsa, kernel.DefaultBackend{})
			if err != nil {
				return err
			}
			fmt.Println(res.Message)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&adds, "add", nil, "manifest_path=local_file, repeatable")
	cmd.Flags().StringArrayVar(&modifies, "modify", nil, "manifest_path=local_file, repeatable")
	cmd.Flags().StringArrayVar(&removes, "remove", nil, "manifest_path, repeatable")
	return cmd
}

func newCompactCmd(loadConfig configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "compact [engram]",
		Short: "rebuild an engram's registries without tombstoned entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log := loadConfig()
			res, err := ops.Compact(log, args[0], cfg.Vsa)
			if err != nil {
				return err
			}
			fmt.Println(res.Message)
			return nil
		},
	}
}

func splitPathEqualsFile(s string) (manifestPath, dataPath string, err error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("expected manifest_path=local_file, got %q", s)
}
