// Command mockupdb runs a scriptable mock mongod/mongos for interactive use
// or shell-driven testing: it binds a port, logs traffic, and otherwise
// sits idle since nothing is connected to script it programmatically.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mockupdb/mockupdb/internal/server"
	"github.com/spf13/cobra"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var port int
	var quiet bool

	root := &cobra.Command{
		Use:           "mockupdb",
		Short:         "A scriptable mock MongoDB wire-protocol server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), port, quiet)
		},
	}

	root.Flags().IntVarP(&port, "port", "p", 27017, "TCP port to listen on")
	root.Flags().BoolVarP(&quiet, "quiet", "q", false, "disable verbose request/reply logging")
	root.SetArgs(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return root.ExecuteContext(ctx)
}

func serve(ctx context.Context, port int, quiet bool) error {
	srv := server.New(
		server.WithPort(port),
		server.WithVerbose(!quiet),
		server.WithAutoIsMaster(true),
	)

	if err := srv.Run(); err != nil {
		return err
	}
	fmt.Printf("mockupdb listening on %s\n", srv.URI())

	<-ctx.Done()
	return srv.Stop()
}
