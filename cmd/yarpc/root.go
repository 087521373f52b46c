package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/najoast/yarpc/transport"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "yarpc",
		Short: "Serve and call yarpc services",
		Long: `yarpc serves procedures over TCP, HTTP and WebSocket inbounds and calls
remote procedures through configured outbounds.

Run "yarpc serve" with a configuration file to start a service, or
"yarpc call" to make a single call to a running one.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newCallCmd(),
		newProceduresCmd(),
		newHealthCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "yarpc", Version)
		},
	}
}

// exitCode maps a call failure to a process exit status. Failures other
// than transport errors exit with 1.
func exitCode(err error) int {
	var terr *transport.Error
	if !errors.As(err, &terr) {
		return 1
	}
	switch terr.Code {
	case transport.CodeBadRequest:
		return 2
	case transport.CodeUnknownService, transport.CodeUnknownProcedure:
		return 3
	case transport.CodeTimeout:
		return 4
	case transport.CodeUnavailable, transport.CodeResourceExhausted:
		return 5
	default:
		return 1
	}
}
