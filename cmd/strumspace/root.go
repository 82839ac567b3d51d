package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/dreamware/strumspace/internal/config"
)

// Exit codes.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
	// ExitCodeConfig means the configuration could not be loaded or failed validation.
	ExitCodeConfig = 2
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "strumspace",
	Short: "Orchestrate chord-overlay requests across the interpreter and tracker",
	Long: `strumspace coordinates a guitar-learning assistant: it asks a remote
interpreter what chord a user wants, looks the chord up in its reference
table, asks a remote tracker where to draw it on the camera frame, and
streams the result back to the session. When a remote service is slow or
down it answers from local fallbacks instead.`,
	SilenceUsage: true,
}

// SetVersion sets the version reported by --version and the version command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "strumspace version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var verrs config.ValidationErrors
	if errors.As(err, &verrs) || errors.Is(err, os.ErrNotExist) {
		return ExitCodeConfig
	}
	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a strumspace YAML config file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStubCmd())
	rootCmd.AddCommand(newChordsCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())
}
