package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shaunagostinho/goimu/internal/transport"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := transport.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
		}
		for _, p := range ports {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}
