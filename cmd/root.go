package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/puravida-software/edgeauth/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const _envPrefix = "EDGEAUTH"

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "edgeauth",
	Short: "Deploy the edgemicro-auth proxy",
	Long: `edgeauth packages the edgemicro-auth app, deploys it to your Edge
organization and wires the JWT callout into it.`,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		setupLogging(debug)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "execute with debug output")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default "+config.ConfigFileName+")")

	// Register the subcommands
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(bundleCmd)
}

func setupLogging(debug bool) {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler).With("run_id", uuid.NewString()))
}

// bindFlags returns a viper instance resolving every flag of cmd, falling
// back to EDGEAUTH_* environment variables.
func bindFlags(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(_envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		slog.Warn("Error binding flags", "error", err)
	}
	return v
}
