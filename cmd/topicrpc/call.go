package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/zeusync/topicrpc/pkg/rpc"
	"github.com/zeusync/topicrpc/pkg/wire"
)

var callArgs struct {
	timeout  time.Duration
	metadata map[string]string
}

var callCmd = &cobra.Command{
	Use:     "call TOPIC JSON",
	Short:   "call the service on TOPIC with a JSON request and print the reply",
	Example: `  topicrpc call Echo '{"text":"hi"}' --timeout 2s`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		request := &structpb.Struct{}
		if err := protojson.Unmarshal([]byte(args[1]), request); err != nil {
			return fmt.Errorf("request is not a JSON object: %w", err)
		}

		a, cleanup, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		client, err := rpc.NewClient(a.Channel, append(a.Options(), rpc.WithContentType(wire.ContentTypeJSON))...)
		if err != nil {
			return err
		}

		opts := []rpc.CallOption{rpc.WithTimeout(callArgs.timeout)}
		for k, v := range callArgs.metadata {
			opts = append(opts, rpc.WithMetadata(k, v))
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error { return client.Run(ctx) })

		var reply json.RawMessage
		status, err := client.Call(ctx, args[0], request, &reply, opts...)
		if err != nil {
			return err
		}
		_ = a.Channel.Close()
		_ = g.Wait()

		if !status.OK() {
			return fmt.Errorf("call failed: %s", status)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(reply))
		return nil
	},
}

func init() {
	callCmd.Flags().DurationVar(&callArgs.timeout, "timeout", 5*time.Second, "reply timeout")
	callCmd.Flags().StringToStringVar(&callArgs.metadata, "metadata", nil, "request metadata as key=value pairs")
}
