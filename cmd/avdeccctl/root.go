// Package main implements avdeccctl, a small operator CLI on top of
// the controller stack: discover entities on an interface and watch the
// AVDECC traffic on the LAN.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	configFile    string
	interfaceName string
	entityID      uint64
)

var rootCmd = &cobra.Command{
	Use:   "avdeccctl",
	Short: "AVDECC controller CLI - discover and inspect entities on an AVB network",
	Long: `avdeccctl drives the AVDECC controller stack from the command line.
It binds a network interface, discovers the entities speaking IEEE 1722.1
on the attached LAN, and can watch traffic for debugging.

watch runs until interrupted; discover listens for a configured number
of seconds (discover.wait_seconds) and then prints what it found.`,
	Version:           "0.1.0",
	PersistentPreRunE: setup,
}

// Execute runs the root command. Called by main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (default $HOME/.avdeccctl.yml)")
	rootCmd.PersistentFlags().StringVarP(&interfaceName, "interface", "i", "",
		"network interface to bind")
	rootCmd.PersistentFlags().Uint64VarP(&entityID, "entity-id", "e", 0,
		"controller entity id (EUI-64)")

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(watchCmd)
}

// setup loads config and wires logging before any subcommand runs.
func setup(cmd *cobra.Command, args []string) error {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", "")
	viper.SetDefault("log.max_size_mb", 50)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("discover.wait_seconds", 3)

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigName(".avdeccctl")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("AVDECCCTL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing default config is fine; an explicit one must load.
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	if interfaceName == "" {
		interfaceName = viper.GetString("interface")
	}
	if entityID == 0 {
		entityID = viper.GetUint64("entity_id")
	}

	level, err := logrus.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)

	if file := viper.GetString("log.file"); file != "" {
		rotated := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    viper.GetInt("log.max_size_mb"),
			MaxBackups: viper.GetInt("log.max_backups"),
			Compress:   true,
		}
		logrus.SetOutput(io.MultiWriter(os.Stderr, rotated))
	}
	return nil
}

func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
