package main

import (
	"os"

	"github.com/pgrab/pgrab/cmd"
	"github.com/pgrab/pgrab/pkg/logging"
)

func main() {
	logging.SetupLogger()
	rootCMD := cmd.GetRootCommand()

	err := rootCMD.Execute()
	_ = logging.Close()
	if err != nil {
		os.Exit(1)
	}
}
