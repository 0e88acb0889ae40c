package main

import (
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/forgery-api/internal/dataset"
	"github.com/Brownie44l1/forgery-api/internal/training"
)

var (
	trainAuthentic string
	trainTampered  string
	trainManifest  string
	trainEpochs    int
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a classifier from authentic and tampered images",
	Long: `Train fits a fresh classification head and stores the best weights,
a training-curve plot and a JSON report under the configured store.

Images are taken either from two directories (--authentic and --tampered)
or from a YAML manifest of path/label entries (--manifest).`,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().StringVar(&trainAuthentic, "authentic", "", "Directory (store prefix) of authentic images")
	trainCmd.Flags().StringVar(&trainTampered, "tampered", "", "Directory (store prefix) of tampered images")
	trainCmd.Flags().StringVar(&trainManifest, "manifest", "", "YAML manifest key in the store")
	trainCmd.Flags().IntVar(&trainEpochs, "epochs", 0, "Maximum number of epochs (default from config)")
	trainCmd.MarkFlagsRequiredTogether("authentic", "tampered")
	trainCmd.MarkFlagsMutuallyExclusive("manifest", "authentic")
	trainCmd.MarkFlagsOneRequired("manifest", "authentic")
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	epochs := trainEpochs
	if epochs == 0 {
		epochs = a.cfg.Training.Epochs
	}

	var report *training.Report
	if trainManifest != "" {
		data, gerr := a.store.Get(ctx, trainManifest)
		if gerr != nil {
			return gerr
		}
		m, merr := dataset.LoadManifest(data)
		if merr != nil {
			return merr
		}
		report, err = a.detector.TrainManifest(ctx, m, epochs)
	} else {
		report, err = a.detector.Train(ctx, trainAuthentic, trainTampered, epochs)
	}
	if err != nil {
		var runErr *training.RunError
		if errors.As(err, &runErr) {
			a.logger.Error("training failed",
				zap.String("kind", string(runErr.Kind())),
				zap.Int("last_epoch", runErr.LastEpoch),
			)
		}
		return err
	}

	a.logger.Info("final validation accuracy", zap.Float64("val_accuracy", report.ValAccuracy))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
