package main

import (
	"os"

	"github.com/mbocsi/wearlink/cli"
)

func main() {
	os.Exit(cli.Execute())
}
