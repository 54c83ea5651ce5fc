package server

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "server",
		Short: "Manages the porter HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("welcome to porter server!")
			return nil
		},
	}
	cmd.AddCommand(newStartCommand())
	return cmd
}
