package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	donky "github.com/donkynetwork/donky-core-go"
)

var sendCmd = &cobra.Command{
	Use:   "send <customType> [json-payload]",
	Short: "Queue a content notification and synchronise once",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		client, err := newClient()
		if err != nil {
			fmt.Printf("Error creating client: %v\n", err)
			return
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if err := client.Register(ctx); err != nil {
			fmt.Printf("Registration failed: %v\n", err)
			return
		}

		var payload any
		if len(args) == 2 {
			if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
				fmt.Printf("Payload is not valid JSON: %v\n", err)
				return
			}
		}

		if err := client.SendContent(ctx, args[0], payload); err != nil {
			fmt.Printf("Failed to queue content: %v\n", err)
			return
		}
		if err := client.Synchronize(ctx); err != nil {
			fmt.Printf("Synchronise failed: %v\n", err)
			return
		}
		fmt.Println("Content sent.")
	},
}

func newClient(extra ...donky.ClientOption) (*donky.Client, error) {
	apiKey := viper.GetString("api_key")
	deviceID := viper.GetString("device_id")
	if apiKey == "" || deviceID == "" {
		return nil, fmt.Errorf("api_key and device_id must be set (flag, env or config file)")
	}
	opts := []donky.ClientOption{donky.WithBaseURL(viper.GetString("base_url"))}
	if path := queuePath(); path != "" {
		// Durable queue: content queued before a crash goes out next run.
		opts = append(opts, donky.WithSQLiteQueue(path))
	}
	return donky.NewClient(apiKey, deviceID, append(opts, extra...)...)
}

func queuePath() string {
	if p := viper.GetString("queue_path"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".donky.queue.db")
}
