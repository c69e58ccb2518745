package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zeusync/topicrpc/pkg/channel"
	"github.com/zeusync/topicrpc/pkg/wire"
)

var listenCmd = &cobra.Command{
	Use:     "listen TOPIC...",
	Short:   "print every message published to the given topic patterns",
	Example: "  topicrpc listen 'sensors.*.temp' 'alerts.#'",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		sub, err := channel.NewSubscription(a.Channel, "")
		if err != nil {
			return err
		}
		for _, topic := range args {
			if err := sub.Subscribe(topic); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		return a.Channel.Listen(cmd.Context(), func(msg *wire.Message) {
			fmt.Fprintln(out, msg.String())
		})
	},
}
