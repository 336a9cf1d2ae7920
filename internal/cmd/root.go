// Package cmd implements the mapnimbus command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/mapnimbus/internal/config"
	"github.com/3leaps/mapnimbus/internal/observability"
	"github.com/3leaps/mapnimbus/internal/server/handlers"
)

// exitGeneralFailure is used for failures without a more specific code.
const exitGeneralFailure = 1

var (
	cfgFile string
	verbose bool

	versionInfo = struct {
		Version   string
		Commit    string
		BuildDate string
	}{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

	appIdentity *config.AppIdentity
)

var rootCmd = &cobra.Command{
	Use:   "mapnimbus",
	Short: "Store, list and share map documents in cloud object storage",
	Long: `mapnimbus keeps map documents, thumbnails and descriptions in an S3 bucket
(or a local directory), scoped to public, protected and private levels.

It serves an HTTP API and a hosted sign-in flow for browser hosts, and
offers the same operations on the command line.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.InitCLILogger(rootCmd.Name(), verbose)
		if appIdentity == nil {
			id := config.DefaultAppIdentity
			appIdentity = &id
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: <user config dir>/mapnimbus/mapnimbus.yaml, ./mapnimbus.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// SetVersionInfo records build information for the version command and
// endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the CLI identity, or nil before any command ran.
func GetAppIdentity() *config.AppIdentity {
	return appIdentity
}

// Execute runs the root command and exits with the mapped exit code.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			ExitWithCode(observability.CLILogger, ee.code, ee.message, ee.err)
		}
		ExitWithCode(observability.CLILogger, exitGeneralFailure, "Command failed", err)
	}
}

// loadConfig loads configuration honoring --config.
func loadConfig(ctx context.Context, overrides ...map[string]any) (*config.Config, error) {
	cfg, err := config.LoadFile(ctx, cfgFile, overrides...)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	return cfg, nil
}

// exitErr carries the exit code for a failed command.
type exitErr struct {
	code    int
	message string
	err     error
}

func (e *exitErr) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *exitErr) Unwrap() error { return e.err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &exitErr{code: code, message: message, err: err}
}

// ExitWithCode logs message and err and terminates the process.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	if err != nil {
		logger.Error(message, zap.Error(err), zap.Int("exit_code", code))
	} else {
		logger.Error(message, zap.Int("exit_code", code))
	}
	_ = logger.Sync()
	os.Exit(code)
}
