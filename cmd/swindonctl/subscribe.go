//go:build cli

// cmd/swindonctl/subscribe.go
// `swindonctl subscribe` opens a WebSocket connection against a configured
// handler, sends a tangle.subscribe call for one topic, and prints every
// frame it receives -- a thin operator tool for watching live traffic. The
// Gateway has no built-in subscribe method: tangle.subscribe is forwarded to
// the handler's backend like any other call, and the connection only joins
// the topic if that backend subscribes it through the Admin API.
package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <handler-path> <topic>",
	Short: "Connect, send a tangle.subscribe call for a topic, and print every frame received",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		handlerPath, topic := args[0], args[1]
		wsURL := strings.Replace(adminAddr, "http", "ws", 1) + handlerPath
		u, err := url.Parse(wsURL)
		if err != nil {
			return err
		}
		conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
		if err != nil {
			return err
		}
		defer conn.Close()

		sub := fmt.Sprintf(`["tangle.subscribe",{"request_id":"sub1"},[],{"topic":%q}]`, topic)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
			return err
		}

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return err
			}
			fmt.Println(string(msg))
		}
	},
}

func init() {
	rootCmd.AddCommand(subscribeCmd)
}
