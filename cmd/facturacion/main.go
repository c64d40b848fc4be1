package main

import (
	"fmt"
	"os"

	"3tcapital/ms_facturacion_sunat/cmd/facturacion/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
