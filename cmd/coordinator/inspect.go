package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"repaircoord/coordination"
)

// inspect opens the configured store, builds the registries
// without starting any loop and hands the app to fn.
func inspect(ctx context.Context, v *viper.Viper, fn func(*app) error) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	logger, err := newLogger(v.GetBool("debug"))
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	// A private registry keeps one-shot commands off the process default.
	a, err := newApp(ctx, cfg, logger, coordination.NewMetrics(prometheus.NewRegistry()))
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			logger.Warn("store_close_failed", zap.Error(err))
		}
	}()
	return fn(a)
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func newLeasesCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "leases",
		Short: "List the active leases",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return inspect(cmd.Context(), v, func(a *app) error {
				leases, err := a.leases.Leases(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), toLeaseResponses(leases))
			})
		},
	}
}

func newLocksCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "List the node locks held for one repair run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := cmd.Flags().GetString("run")
			if err != nil {
				return err
			}
			runID, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("--run must be a uuid: %w", err)
			}
			return inspect(cmd.Context(), v, func(a *app) error {
				locks, err := a.locks.Locks(cmd.Context(), runID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), toNodeLockResponses(locks))
			})
		},
	}
	cmd.Flags().String("run", "", "Repair run id")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}
