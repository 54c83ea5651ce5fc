package fixtures

import "github.com/spf13/cobra"

func NewCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "fixtures",
		Short: "Generates fixture data for exercising connectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}
	cmd.AddCommand(newGenerateCommand())
	return cmd
}
