package commands

import (
	"github.com/sectionnet/routing/src/config"
	"github.com/spf13/cobra"
)

var _config = config.NewDefaultConfig()

//RootCmd is the root command for sectiond
var RootCmd = &cobra.Command{
	Use:              "sectiond",
	Short:            "sectiond node",
	TraverseChildren: true,
}
