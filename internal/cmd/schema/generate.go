package schema

import (
	"fmt"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/turbolytics/porter/internal/parquet"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func newGenerateCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "generate",
		Short: "Generates a parquet schema from a database table",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := zap.NewDevelopment()
			l := logger.Named("schema.generate")
			l.Info(
				"porter schema generate!",
				zap.String("db", viper.GetString("db")),
			)

			switch viper.GetString("db") {
			case "postgres":
				s, err := parquet.ParseCreateTableStmt(viper.GetString("query"))
				if err != nil {
					return err
				}

				bs, err := yaml.Marshal(s)
				if err != nil {
					return err
				}

				fmt.Println(string(bs))
			default:
				return fmt.Errorf("unsupported database: %q", viper.GetString("db"))
			}

			return nil
		},
	}

	cmd.PersistentFlags().StringP("db", "", "postgres", "The database the create table statement is from")
	cmd.PersistentFlags().StringP("query", "q", "", "The query to parse to generate the schema")
	viper.BindPFlag("db", cmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("query", cmd.PersistentFlags().Lookup("query"))
	viper.AutomaticEnv()
	viper.SetEnvPrefix("PORTER")
	return cmd
}
