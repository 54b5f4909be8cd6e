package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this device with the network",
	Run: func(cmd *cobra.Command, args []string) {
		deviceID := viper.GetString("device_id")
		apiKey := viper.GetString("api_key")
		if deviceID == "" || apiKey == "" {
			fmt.Println("device_id and api_key must be set (flag, env or config file)")
			return
		}

		body, _ := json.Marshal(map[string]string{
			"deviceId":     deviceID,
			"deviceSecret": apiKey,
		})
		resp, err := http.Post(viper.GetString("base_url")+"/v1/registration", "application/json", bytes.NewReader(body))
		if err != nil {
			fmt.Printf("Error connecting to the network: %v\n", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			fmt.Printf("Registration failed. Status: %s\n", resp.Status)
			return
		}
		fmt.Printf("Device %s registered.\n", deviceID)
	},
}
