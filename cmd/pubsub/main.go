// Command pubsub is the command-line entry point for the pubsub library.
// The library is consumed in-process; the command exposes version and
// usage information plus a small self-check that exercises a bus end to
// end.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftvale/pubsub"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "pubsub",
		Short:   "In-process asynchronous publish/subscribe message bus",
		Version: pubsub.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.AddCommand(newCheckCmd())
	return root
}

// newCheckCmd wires a throwaway bus, publishes through it, and verifies
// delivery. Useful as a smoke test for packaging.
func newCheckCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run an end-to-end self-check on a throwaway bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			bus, err := pubsub.New(pubsub.WithName("check"))
			if err != nil {
				return err
			}
			defer bus.Shutdown()

			got := 0
			if err := bus.Handle("check.*", func(msg *pubsub.Message) {
				got++
			}); err != nil {
				return err
			}
			const want = 3
			for i := 0; i < want; i++ {
				if err := bus.Publish("check.ping", map[string]any{"seq": i}); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if !bus.Drain(ctx) {
				return fmt.Errorf("bus did not drain within %s", timeout)
			}
			if got != want {
				return fmt.Errorf("delivered %d of %d messages", got, want)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d messages delivered (version %s)\n", got, pubsub.Version)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "drain timeout for the self-check")
	return cmd
}
