package main

import (
	"github.com/larsks/switchsync/internal/cli"
	_ "github.com/larsks/switchsync/internal/logsetup"
	"github.com/larsks/switchsync/internal/switchctl"
)

func main() {
	cli.SubCommandMain(
		func() cli.Configurable { return switchctl.NewConfig() },
		switchctl.NewHandler(),
	)
}
