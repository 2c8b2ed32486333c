//go:build cli

// cmd/swindonctl/publish.go
// `swindonctl publish` posts a raw JSON payload to the Admin API's
// publish endpoint, the operator-facing equivalent of a backend's own
// POST /v1/publish/{topic}.
package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/swindon-rs/swindon-gateway/internal/util"
)

var publishCmd = &cobra.Command{
	Use:   "publish <topic> <json-payload>",
	Short: "Publish a message to a topic via the Admin API",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, payload := args[0], args[1]
		url := fmt.Sprintf("%s/v1/publish/%s", adminAddr, util.PathForm(topic))
		resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(payload)))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stdout, "%s\n%s\n", resp.Status, body)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)
}
