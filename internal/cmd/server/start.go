package server

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/turbolytics/porter/internal/config"
	"github.com/turbolytics/porter/internal/pipeline"
	pserver "github.com/turbolytics/porter/internal/server"
)

const defaultAddr = ":8428"

func newStartCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Starts the HTTP server. Connectors, runs and DQ rules are managed over REST.",
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
			l := logger.Named("porter.server")

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

			s, err := pserver.New(
				pserver.WithLogger(l),
				pserver.WithRegistry(reg),
				pserver.WithPipeline(p),
			)
			if err != nil {
				return err
			}

			addr := c.Server.Addr
			if addr == "" {
				addr = defaultAddr
			}

			if err := s.Start(ctx, addr); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.MarkFlagRequired("config")

	return cmd
}
