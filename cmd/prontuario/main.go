package main

import (
	"os"

	"github.com/JVLegend/iausp-prontuario/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
