package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/najoast/yarpc/bootstrap"
	"github.com/najoast/yarpc/config"
	"github.com/najoast/yarpc/transport"
)

type serveOptions struct {
	configFile string
	watch      bool
	echo       bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a service from a configuration file",
		Long: `Starts the inbounds and outbounds described by the configuration and
serves until interrupted. Without --config the file is searched for as
yarpc.yaml, yarpc.yml or yarpc.json in ., ./config, /etc/yarpc and
~/.yarpc; when none exists the defaults are used.

Every service answers meta::procedures and meta::health.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "configuration file")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "reload the log level when the configuration file changes")
	cmd.Flags().BoolVar(&opts.echo, "echo", false, "serve an echo procedure that returns its request body")
	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	loader := config.NewLoader()
	file := opts.configFile
	if file == "" {
		found, err := loader.FindConfigFile()
		switch {
		case err == nil:
			file = found
		case !errors.Is(err, config.ErrConfigFileNotFound):
			return err
		}
	}

	cfg, err := loader.Load(file)
	if err != nil {
		return err
	}

	var appOpts []bootstrap.Option
	if opts.watch && file != "" {
		appOpts = append(appOpts, bootstrap.WithConfigFile(file, loader))
	}

	app, err := bootstrap.New(cfg, appOpts...)
	if err != nil {
		return err
	}
	if opts.echo {
		if err := app.Register(echoProcedure()); err != nil {
			return err
		}
	}
	return app.Run(ctx)
}

func echoProcedure() transport.Procedure {
	return transport.Procedure{
		Name: "echo",
		Handler: transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			return &transport.Response{Body: req.Body, Headers: req.Headers}, nil
		}),
	}
}
