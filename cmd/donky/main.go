package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "donky",
	Short: "Donky network CLI",
	Long:  `A CLI tool to exercise a Donky network from the command line.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.donky.yaml)")
	rootCmd.PersistentFlags().String("base-url", "http://localhost:8095", "network base URL")
	rootCmd.PersistentFlags().String("api-key", "", "network API key")
	rootCmd.PersistentFlags().String("device-id", "", "device identifier")
	rootCmd.PersistentFlags().String("queue", "", "outbound queue database (default is $HOME/.donky.queue.db)")
	viper.BindPFlag("base_url", rootCmd.PersistentFlags().Lookup("base-url"))
	viper.BindPFlag("api_key", rootCmd.PersistentFlags().Lookup("api-key"))
	viper.BindPFlag("device_id", rootCmd.PersistentFlags().Lookup("device-id"))
	viper.BindPFlag("queue_path", rootCmd.PersistentFlags().Lookup("queue"))

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(listenCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".donky")

		configPath := filepath.Join(home, ".donky.yaml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			f, err := os.Create(configPath)
			if err != nil {
				fmt.Printf("Warning: failed to create config file: %v\n", err)
			} else {
				f.Close()
			}
		}
	}

	viper.SetEnvPrefix("DONKY")
	viper.AutomaticEnv()
	viper.ReadInConfig()
}

func main() {
	Execute()
}
