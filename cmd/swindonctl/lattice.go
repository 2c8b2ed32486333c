//go:build cli

// cmd/swindonctl/lattice.go
// `swindonctl lattice-put` writes the registers of one shared key into a
// namespace via the Admin API, and `swindonctl lattice-post` is its
// counterpart for admin-attaching an existing connection to a namespace.
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

var latticePutCmd = &cobra.Command{
	Use:   "lattice-put <namespace> <key> <json-registers>",
	Short: "Merge register values (a JSON object, register -> value) into a shared lattice key via the Admin API",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, key, registers := args[0], args[1], args[2]
		url := fmt.Sprintf("%s/v1/lattice/%s", adminAddr, util.PathForm(ns))
		body := fmt.Sprintf(`{"shared":{%q:%s}}`, key, registers)
		resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(body)))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		out, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stdout, "%s\n%s\n", resp.Status, out)
		return nil
	},
}

var latticePostCmd = &cobra.Command{
	Use:   "lattice-post <connection-id> <namespace>",
	Short: "Admin-attach a connection to a lattice namespace via the Admin API",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cid, ns := args[0], args[1]
		url := fmt.Sprintf("%s/v1/connection/%s/lattices/%s", adminAddr, cid, util.PathForm(ns))
		req, err := http.NewRequest(http.MethodPut, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		fmt.Fprintln(os.Stdout, resp.Status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(latticePutCmd, latticePostCmd)
}
