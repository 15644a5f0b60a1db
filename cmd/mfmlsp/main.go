// Command mfmlsp runs the element-assembly language server on stdio.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ewal-lang/ewal/langserver"
)

func main() {
	dir := flag.String("C", ".", "workspace root to search for physics.toml")
	flag.Parse()

	abs, err := os.Getwd()
	if err == nil {
		if *dir != "." {
			abs = *dir
		}
	} else {
		abs = *dir
	}

	srv := langserver.NewLSP(abs)
	if err := srv.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "mfmlsp: %v\n", err)
		os.Exit(1)
	}
}
