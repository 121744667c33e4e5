package main

import (
	"fmt"

	"github.com/danmuck/boltctl/internal/config"
	"github.com/spf13/cobra"
)

func newResolveCmd(root *rootOptions) *cobra.Command {
	var port int
	var service, nameserver string
	cmd := &cobra.Command{
		Use:   "resolve <host>",
		Short: "Print the address connect would dial",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			cfg.Host = args[0]
			cfg.Service = service
			cfg.Nameserver = nameserver
			var portOverride *int
			if cmd.Flags().Changed("port") {
				portOverride = &port
			}
			addr, err := newResolver(cfg, root.logger).Resolve(cmd.Context(), cfg.Host, portOverride)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), addr.String())
			return nil
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&port, "port", 0, "port for literal IP hosts")
	flags.StringVar(&service, "service", config.Default().Service, "SRV service label")
	flags.StringVar(&nameserver, "nameserver", "", "query this host:port instead of the system resolver")
	return cmd
}
