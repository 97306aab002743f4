// cmd/crawlctl is the operator CLI built with Cobra. It talks to a
// single node's admin HTTP surface (see internal/adminapi) — never the
// crawl data path — to check health, list discovered peers, and read
// role-specific stats.
//
// Usage:
//
//	crawlctl health  --admin http://localhost:9090
//	crawlctl peers   --admin http://localhost:9090
//	crawlctl stats   --admin http://localhost:9090 --path /requests
package main

import (
	"context"
	"crawlmesh/internal/adminclient"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	adminAddr string
	timeout   time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "crawlctl",
		Short: "Operator CLI for a crawlmesh node's admin surface",
	}

	root.PersistentFlags().StringVarP(&adminAddr, "admin", "a",
		"http://localhost:9090", "node admin HTTP address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(healthCmd(), peersCmd(), statsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── health ───────────────────────────────────────────────────────────────────

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report a node's role, id, and peer count",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := adminclient.New(adminAddr, timeout)
			h, err := c.Health(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(h)
			return nil
		},
	}
}

// ─── peers ────────────────────────────────────────────────────────────────────

func peersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List a node's currently discovered peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := adminclient.New(adminAddr, timeout)
			pl, err := c.Peers(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(pl)
			return nil
		},
	}
}

// ─── stats ────────────────────────────────────────────────────────────────────

func statsCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Fetch a role-specific stats endpoint (/requests on a Worker, /cache/stats on a Storage, /feed on a Client)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := adminclient.New(adminAddr, timeout)
			m, err := c.Stats(context.Background(), path)
			if err != nil {
				return err
			}
			prettyPrint(m)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "/requests", "stats endpoint path")
	return cmd
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
