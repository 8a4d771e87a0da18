package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"repaircoord/config"
	"repaircoord/coordination"
	"repaircoord/ring"
)

const maxRepairOutput = 4096

// commandRepair runs cfg.Command once per segment. The segment is described to
// the command through REPAIR_* environment variables; a non-zero exit fails
// the segment.
func commandRepair(cfg config.RepairConfig, logger *zap.Logger) coordination.RepairFunc {
	return func(ctx context.Context, seg coordination.Segment) error {
		ranges, err := ring.MarshalRanges(seg.TokenRanges)
		if err != nil {
			return err
		}
		runCtx, cancel := context.WithTimeout(ctx, cfg.Timeout.Std())
		defer cancel()

		cmd := exec.CommandContext(runCtx, cfg.Command[0], cfg.Command[1:]...)
		cmd.Env = append(os.Environ(),
			"REPAIR_RUN_ID="+seg.RunID.String(),
			"REPAIR_SEGMENT_ID="+seg.ID.String(),
			"REPAIR_UNIT_ID="+seg.RepairUnitID.String(),
			"REPAIR_TOKEN_RANGES="+ranges,
			"REPAIR_REPLICAS="+strings.Join(seg.Nodes(), ","),
			"REPAIR_COORDINATOR="+seg.CoordinatorHost,
		)
		var output bytes.Buffer
		cmd.Stdout = &output
		cmd.Stderr = &output

		if err := cmd.Run(); err != nil {
			logger.Warn("repair_command_failed",
				zap.Stringer("run_id", seg.RunID),
				zap.Stringer("segment_id", seg.ID),
				zap.String("output", tail(output.String(), maxRepairOutput)),
				zap.Error(err),
			)
			if ctxErr := runCtx.Err(); ctxErr != nil && ctx.Err() == nil {
				return fmt.Errorf("repair of segment %s timed out after %s: %w", seg.ID, cfg.Timeout.Std(), ctxErr)
			}
			return fmt.Errorf("repair of segment %s: %w", seg.ID, err)
		}
		logger.Debug("repair_command_succeeded", zap.Stringer("segment_id", seg.ID))
		return nil
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
