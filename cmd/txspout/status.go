package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"txspout/internal/transport"
)

var EngineAddr string

func init() {
	status.Flags().StringVar(&EngineAddr, "addr", "localhost:7070", "engine gRPC address")
	rootCmd.AddCommand(status)
}

var status = &cobra.Command{
	Use:   "status",
	Short: "ask a running engine whether its runner is serving",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := transport.Dial(EngineAddr)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
		defer cancel()
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), st.String())
		return nil
	},
}
