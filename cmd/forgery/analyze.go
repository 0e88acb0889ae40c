package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/forgery-api/internal/detector"
)

var analyzeELAOut string

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image>",
	Short: "Analyze an image file with the current model",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeELAOut, "ela-out", "", "Write the error level analysis image to this PNG path")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	a.loadModel(ctx)

	res, err := a.detector.Analyze(ctx, data, detector.AnalyzeOptions{IncludeELA: analyzeELAOut != ""})
	if err != nil {
		return err
	}

	if analyzeELAOut != "" {
		if err := os.WriteFile(analyzeELAOut, res.ELA, 0o644); err != nil {
			return fmt.Errorf("failed to write ELA image: %w", err)
		}
		res.ELA = nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
