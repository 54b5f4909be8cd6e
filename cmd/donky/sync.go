package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	donky "github.com/donkynetwork/donky-core-go"
	"github.com/donkynetwork/donky-core-go/internal/notification"
)

var syncCmd = &cobra.Command{
	Use:   "sync <customType>...",
	Short: "Run one synchronisation cycle and print the received notifications",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, err := newClient()
		if err != nil {
			fmt.Printf("Error creating client: %v\n", err)
			return
		}
		defer client.Close()

		received := 0
		client.Subscribe(donky.Subscription{
			Category:        donky.CategoryCustom,
			Types:           args,
			AutoAcknowledge: true,
			BatchHandler: func(ns []notification.Inbound) {
				for _, n := range ns {
					received++
					fmt.Printf("[%s] %s %s\n", n.CreatedOn.Format(time.RFC3339), n.Type, string(n.Data))
				}
			},
		})

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if err := client.Register(ctx); err != nil {
			fmt.Printf("Registration failed: %v\n", err)
			return
		}
		if err := client.Synchronize(ctx); err != nil {
			fmt.Printf("Synchronise failed: %v\n", err)
			return
		}
		fmt.Printf("Done. %d notification(s) received.\n", received)
	},
}
