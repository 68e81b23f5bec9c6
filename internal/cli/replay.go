package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"stake-hedge-watcher/internal/app"
)

var (
	replaySteps      int
	replayStartPrice float64
	replayStepBps    int
	replaySeed       int64
	replayDryRun     bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "用带种子的随机游走价格回放策略流水线",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replaySteps <= 0 {
			return errors.New("--steps 必须大于 0")
		}
		if replayStartPrice <= 0 {
			return errors.New("--start-price 必须大于 0")
		}

		opts := app.ReplayOptions{
			Steps:      replaySteps,
			StartPrice: replayStartPrice,
			StepBps:    replayStepBps,
			Seed:       replaySeed,
			DryRun:     replayDryRun,
		}
		return getApp().Replay(cmd.Context(), opts)
	},
}

func init() {
	replayCmd.Flags().IntVar(&replaySteps, "steps", 0, "回放步数")
	replayCmd.Flags().Float64Var(&replayStartPrice, "start-price", 0, "起始价格 (USD)")
	replayCmd.Flags().IntVar(&replayStepBps, "step-bps", 50, "单步最大波动 (bps)")
	replayCmd.Flags().Int64Var(&replaySeed, "seed", 1, "随机种子")
	replayCmd.Flags().BoolVar(&replayDryRun, "dry-run", false, "只计算不写库")
}
