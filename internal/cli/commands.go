package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/strataworks/strata/internal/analyze"
	"github.com/strataworks/strata/internal/config"
	"github.com/strataworks/strata/internal/engine"
	"github.com/strataworks/strata/internal/store"
)

// Flags with differing defaults get their own variable; cobra applies the
// default at registration, so sharing one would let the last command win.
var (
	flagProject   string
	flagStoreType string
	flagGetType   string
	flagSource    string
	flagSimLimit  int
	flagDepLimit  int
	flagStaleN    int
	flagApply     bool
	flagOlder     time.Duration
	flagStaleAge  time.Duration
	flagBatch     int
	flagReason    string
	flagForce     bool
	flagIDs       []string
)

// openEngine builds an engine from config for one-shot CLI commands. The
// caller must Close the returned DB.
func openEngine() (*engine.Engine, *store.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	return buildEngine(cfg)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var storeCmd = &cobra.Command{
	Use:   "store <scope-path> [file]",
	Short: "Store an analysis artifact (reads stdin without a file argument)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var content []byte
		var err error
		var sourceFiles []string
		if len(args) == 2 {
			content, err = os.ReadFile(args[1])
			sourceFiles = []string{args[1]}
		} else {
			content, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("read content: %w", err)
		}

		eng, db, err := openEngine()
		if err != nil {
			return err
		}
		defer db.Close()

		res, err := eng.Store(context.Background(), engine.StoreRequest{
			AnalysisType: analyze.Type(flagStoreType),
			ProjectID:    flagProject,
			ScopePath:    args[0],
			Content:      string(content),
			SourceFiles:  sourceFiles,
			ForceRefresh: flagForce,
		})
		if err != nil {
			// Partial propagation still persisted the artifact.
			if res == nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
		if res.Deduplicated {
			fmt.Fprintln(os.Stderr, "unchanged content, returning existing artifact")
		}
		return printJSON(res.Artifact)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <scope-path>",
	Short: "Fetch the newest artifact for a scope with its freshness",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, db, err := openEngine()
		if err != nil {
			return err
		}
		defer db.Close()

		res, err := eng.Fetch(context.Background(), flagProject, args[0], analyze.Type(flagGetType))
		if err != nil {
			return err
		}
		if res == nil {
			return fmt.Errorf("no artifact stored at %s", args[0])
		}
		return printJSON(res)
	},
}

var freshnessCmd = &cobra.Command{
	Use:   "freshness <scope-path>",
	Short: "Report freshness for the newest artifact at a scope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, db, err := openEngine()
		if err != nil {
			return err
		}
		defer db.Close()

		info, err := eng.Freshness(context.Background(), flagProject, args[0])
		if err != nil {
			return err
		}
		if info == nil {
			return fmt.Errorf("no artifact stored at %s", args[0])
		}
		return printJSON(info)
	},
}

var touchCmd = &cobra.Command{
	Use:   "touch <scope-path>",
	Short: "Record a change at a scope and propagate it up the hierarchy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, db, err := openEngine()
		if err != nil {
			return err
		}
		defer db.Close()

		source := flagSource
		if source == "" {
			source = "cli"
		}
		if err := eng.RecordChange(context.Background(), args[0], source, "content_modified", time.Time{}); err != nil {
			return err
		}
		fmt.Printf("recorded change at %s\n", args[0])
		return nil
	},
}

var similarCmd = &cobra.Command{
	Use:   "similar <query>",
	Short: "Find artifacts similar to a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, db, err := openEngine()
		if err != nil {
			return err
		}
		defer db.Close()

		results, err := eng.FindSimilar(context.Background(), flagProject, args[0], flagSimLimit)
		if err != nil {
			return err
		}
		return printJSON(results)
	},
}

var dependentsCmd = &cobra.Command{
	Use:   "dependents <scope-path>",
	Short: "List components whose analyses reference a scope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, db, err := openEngine()
		if err != nil {
			return err
		}
		defer db.Close()

		deps, err := eng.FindDependents(context.Background(), flagProject, args[0], flagDepLimit)
		if err != nil {
			return err
		}
		return printJSON(deps)
	},
}

var lifecycleCmd = &cobra.Command{
	Use:   "lifecycle <archive|delete|mark_stale|refresh|cleanup>",
	Short: "Run a maintenance pass (dry run unless --apply)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, db, err := openEngine()
		if err != nil {
			return err
		}
		defer db.Close()

		scopePath, _ := cmd.Flags().GetString("scope")
		res, err := eng.Lifecycle(context.Background(), engine.LifecycleRequest{
			Operation:    engine.Operation(args[0]),
			ProjectID:    flagProject,
			ScopePath:    scopePath,
			AnalysisType: flagGetType,
			AnalysisIDs:  flagIDs,
			OlderThan:    flagOlder,
			BatchSize:    flagBatch,
			Reason:       flagReason,
			Apply:        flagApply,
		})
		if err != nil {
			return err
		}
		if res.DryRun {
			fmt.Fprintln(os.Stderr, "dry run, pass --apply to execute")
		}
		return printJSON(res)
	},
}

var staleCmd = &cobra.Command{
	Use:   "stale",
	Short: "List scopes whose last change is older than --older-than",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, db, err := openEngine()
		if err != nil {
			return err
		}
		defer db.Close()

		maxAge := flagStaleAge
		if maxAge <= 0 {
			maxAge = 7 * 24 * time.Hour
		}
		scopes, err := eng.StaleScopes(context.Background(), maxAge, flagStaleN)
		if err != nil {
			return err
		}
		return printJSON(scopes)
	},
}

func init() {
	for _, c := range []*cobra.Command{storeCmd, getCmd, freshnessCmd, similarCmd, dependentsCmd, lifecycleCmd} {
		c.Flags().StringVarP(&flagProject, "project", "p", "", "project id")
	}
	storeCmd.Flags().StringVarP(&flagStoreType, "type", "t", "semantic", "analysis type")
	storeCmd.Flags().BoolVar(&flagForce, "force", false, "bypass content deduplication")
	getCmd.Flags().StringVarP(&flagGetType, "type", "t", "", "filter by analysis type")
	touchCmd.Flags().StringVar(&flagSource, "source", "", "change source attribution")
	similarCmd.Flags().IntVarP(&flagSimLimit, "limit", "n", 10, "max results")
	dependentsCmd.Flags().IntVarP(&flagDepLimit, "limit", "n", 20, "max results")
	staleCmd.Flags().IntVarP(&flagStaleN, "limit", "n", 50, "max results")
	lifecycleCmd.Flags().String("scope", "", "scope path (with descendants)")
	lifecycleCmd.Flags().StringVar(&flagGetType, "analysis-type", "", "filter by analysis type")
	lifecycleCmd.Flags().StringSliceVar(&flagIDs, "id", nil, "explicit artifact ids (repeatable)")
	lifecycleCmd.Flags().DurationVar(&flagOlder, "older-than", 0, "only artifacts older than this")
	lifecycleCmd.Flags().IntVar(&flagBatch, "batch", 0, "batch size")
	lifecycleCmd.Flags().StringVar(&flagReason, "reason", "", "reason recorded with the operation")
	lifecycleCmd.Flags().BoolVar(&flagApply, "apply", false, "execute instead of dry run")
	staleCmd.Flags().DurationVar(&flagStaleAge, "older-than", 0, "staleness window")
}
