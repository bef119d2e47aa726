package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/recoverydesk/case-service/config"
	"github.com/recoverydesk/case-service/internal/app"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  zerolog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "case-service",
	Short: "Case Service CLI - bulk account file ingestion",
	Long: `A CLI for the case service. It validates account files and ingests them
into the record store without going through the HTTP API. CSV files in UTF-8,
Windows-1250 or ISO-8859-2 and XLSX workbooks are supported.`,
	SilenceUsage:      true,
	PersistentPreRunE: persistentPreRun,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/config.yaml or ./config.yaml)")
}

// persistentPreRun loads configuration and the logger before each command
func persistentPreRun(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Name() == "completion" {
		return nil
	}

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// The CLI always logs to stderr in console format so stdout stays clean.
	logging := cfg.Logging
	logging.Format = "console"
	logger = app.InitLogger(logging, "case-service-cli").Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: logging.NoColor})
	return nil
}

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
