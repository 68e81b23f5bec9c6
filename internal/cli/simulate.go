package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulatePrice float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-tick",
	Short: "用给定价格模拟一个 tick 并触发告警通道",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice <= 0 {
			return errors.New("--price 必须大于 0")
		}

		return getApp().SimulateTick(cmd.Context(), simulatePrice)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "模拟现货价格 (USD)")
}
