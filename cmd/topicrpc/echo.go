package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/zeusync/topicrpc/pkg/rpc"
)

var echoArgs struct {
	topic string
}

var echoCmd = &cobra.Command{
	Use:   "echo",
	Short: "serve a service replying with its request",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, cleanup, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		provider := rpc.NewServiceProvider(a.Channel, a.Options()...)
		err = rpc.Delegate(provider, echoArgs.topic, func(_ *rpc.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return req, nil
		})
		if err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error { return provider.Run(ctx) })
		if a.Config.Metrics.Enabled {
			g.Go(func() error { return serveMetrics(ctx, a.Config.Metrics.Address, a.Registry, a.Logger) })
		}
		return g.Wait()
	},
}

func init() {
	echoCmd.Flags().StringVar(&echoArgs.topic, "topic", "Echo", "service topic")
}
