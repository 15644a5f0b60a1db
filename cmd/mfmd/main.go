// Command mfmd runs the host service daemon: a Connect/gRPC surface over
// the Load/Run Host<->VM interface, for a scheduler running out-of-process
// from the VM.
package main

import (
	"flag"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/ewal-lang/ewal/hostsvc"
)

func main() {
	addr := flag.String("addr", ":4568", "listen address (Connect + gRPC, Load/Run)")
	grpcAddr := flag.String("grpc-addr", ":4569", "listen address for the gRPC health-check service")
	crashDir := flag.String("crash-dir", "", "directory to write CBOR crash dumps for faulted Run calls (disabled if empty)")
	flag.Parse()

	srv := hostsvc.New()
	defer srv.Stop()
	if *crashDir != "" {
		srv.SetCrashDumpDir(*crashDir)
	}

	g := new(errgroup.Group)
	g.Go(func() error { return srv.ListenAndServe(*addr) })
	g.Go(func() error { return srv.GRPCListenAndServe(*grpcAddr) })

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "mfmd: %v\n", err)
		os.Exit(1)
	}
}
