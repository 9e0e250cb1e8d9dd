package main

import (
	"github.com/larsks/switchsync/internal/cli"
	_ "github.com/larsks/switchsync/internal/logsetup"
	"github.com/larsks/switchsync/internal/switchd"
)

func main() {
	cli.StandardMain(
		func() cli.Configurable { return switchd.NewConfig() },
		switchd.NewHandler(),
	)
}
