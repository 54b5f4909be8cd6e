package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	donky "github.com/donkynetwork/donky-core-go"
	"github.com/donkynetwork/donky-core-go/internal/notification"
	"github.com/donkynetwork/donky-core-go/pkg/observability"
)

var listenCmd = &cobra.Command{
	Use:   "listen <customType>...",
	Short: "Stay connected on the push stream and print notifications as they arrive",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, err := newClient(
			donky.WithPushURL(pushURL(viper.GetString("base_url"))),
			donky.WithLogger(observability.NewLogger("donky-cli", slog.LevelWarn)),
		)
		if err != nil {
			fmt.Printf("Error creating client: %v\n", err)
			return
		}
		defer client.Close()

		client.Subscribe(donky.Subscription{
			Category:        donky.CategoryCustom,
			Types:           args,
			AutoAcknowledge: true,
			Handler: func(n notification.Inbound) {
				fmt.Printf("[%s] %s %s\n", n.CreatedOn.Format(time.RFC3339), n.Type, string(n.Data))
			},
		})

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := client.Register(ctx); err != nil {
			fmt.Printf("Registration failed: %v\n", err)
			return
		}
		if err := client.ConnectPush(ctx); err != nil {
			fmt.Printf("Push connection failed: %v\n", err)
			return
		}
		if err := client.Synchronize(ctx); err != nil {
			fmt.Printf("Initial synchronise failed: %v\n", err)
			return
		}

		fmt.Println("Listening. Ctrl-C to stop.")
		<-ctx.Done()
	},
}

// pushURL derives the websocket stream endpoint from the HTTP base URL.
func pushURL(base string) string {
	ws := strings.Replace(base, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)
	return strings.TrimSuffix(ws, "/") + "/v1/notification/stream"
}
