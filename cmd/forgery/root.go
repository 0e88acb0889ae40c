package main

import (
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "0.1.0"

	// Global flags
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "forgery",
	Short: "Image forgery detection: train a classifier and analyze images",
	Long: `forgery detects digitally tampered images with a frozen feature
extractor and a trainable classification head.

Commands:
  serve    - Start the HTTP API
  train    - Train a classifier from authentic and tampered images
  analyze  - Analyze image files with the current model

Example:
  forgery train --authentic data/Au --tampered data/Tp --epochs 20
  forgery analyze photo.jpg --ela-out photo_ela.png
  forgery serve`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./config.yaml if present)")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(analyzeCmd)
}
