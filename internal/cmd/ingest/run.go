package ingest

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/turbolytics/porter/internal/config"
	"github.com/turbolytics/porter/internal/pipeline"
	"github.com/turbolytics/porter/internal/registry"

	"go.uber.org/zap"
)

func newRunCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Executes one ingestion run. Streams are discovered, read, and preserved.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := config.NewPorterFromFile(configPath)
			if err != nil {
				return err
			}

			logger, err := config.InitializeLogger(c)
			if err != nil {
				return err
			}
			defer logger.Sync()
			l := logger.Named("porter.ingest.run")
			l.Info("starting ingester!")

			reg, closeRegistry, err := config.InitializeRegistry(ctx, c, l)
			if err != nil {
				return err
			}
			defer closeRegistry()

			repository, err := config.InitializeRepository(c, l)
			if err != nil {
				return err
			}

			publisher, err := config.InitializePublisher(ctx, c, l)
			if err != nil {
				return err
			}

			opts := []pipeline.Option{
				pipeline.WithLogger(l),
				pipeline.WithRegistry(reg),
				pipeline.WithRepository(repository),
			}
			if publisher != nil {
				defer publisher.Close(ctx)
				opts = append(opts, pipeline.WithPublisher(publisher))
			}

			p, err := pipeline.New(opts...)
			if err != nil {
				return err
			}

			connector, err := reg.CreateConnector(
				ctx,
				c.Ingester.Connector.Name,
				c.Ingester.Connector.Kind,
				c.Ingester.Connector.Config,
			)
			if err != nil {
				return err
			}

			run, err := reg.CreateRun(ctx, connector.ID)
			if err != nil {
				return err
			}

			var mappingSpec string
			if c.Ingester.Mapping != "" {
				bs, err := os.ReadFile(c.Ingester.Mapping)
				if err != nil {
					return fmt.Errorf("reading mapping file: %w", err)
				}
				mappingSpec = string(bs)
			}

			run, err = p.Execute(ctx, run, pipeline.RunOptions{
				MappingSpec: mappingSpec,
				DQField:     c.Ingester.DQField,
			})
			if err != nil {
				return err
			}

			l.Info("run complete",
				zap.String("run_id", run.ID),
				zap.String("status", string(run.Status)),
				zap.Int("dq_failures", len(run.DQFailures)),
			)

			if run.Status == registry.RunFailed {
				if run.Error != "" {
					return fmt.Errorf("run %s failed: %s", run.ID, run.Error)
				}
				return fmt.Errorf("run %s failed: %d data quality failures", run.ID, len(run.DQFailures))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.MarkFlagRequired("config")

	return cmd
}
