// Package cli implements the orchard command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/orchard-dev/orchard/internal/config"
)

var (
	cfgFile    string
	serverAddr string
	jsonOut    bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "orchard",
	Short: "Multi-agent workflow orchestration engine",
	Long: `orchard drives tickets through phased workflows executed by a pool
of agent workers: a durable priority queue with dependencies and
retries, heartbeat-based agent health, phase gates, discovery
branching, and guardian interventions.

Quick start:
  orchard serve                      Start the engine and API
  orchard ticket create "Fix login"  Create a ticket
  orchard ticket start ticket-...    Seed the first phase
  orchard agent register worker      Register an agent
  orchard events tail                Follow the event stream`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .orchard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "engine API address (default from config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newTicketCmd())
	rootCmd.AddCommand(newTaskCmd())
	rootCmd.AddCommand(newAgentCmd())
	rootCmd.AddCommand(newGuardianCmd())
	rootCmd.AddCommand(newPhaseCmd())
	rootCmd.AddCommand(newEventsCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initConfig wires config file and environment discovery for the
// client commands.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(config.OrchardDir)
		viper.AddConfigPath("$HOME/" + config.OrchardDir)
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("ORCHARD")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// resolveServerAddr returns the API address: flag, then config file or
// environment, then the built-in default.
func resolveServerAddr() string {
	if serverAddr != "" {
		return serverAddr
	}
	if addr := viper.GetString("server.addr"); addr != "" {
		return addr
	}
	return config.Default().Server.Addr
}
