package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd(defaultEnv()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(env *cliEnv) *cobra.Command {
	root := &cobra.Command{
		Use:           "docchatctl",
		Short:         "Operate docchat: migrations, quota repair and queue maintenance",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(migrateCmd(env))
	root.AddCommand(reconcileCmd(env))
	root.AddCommand(usageCmd(env))
	root.AddCommand(setTierCmd(env))
	root.AddCommand(requeueCmd(env))
	root.AddCommand(tokenCmd(env))
	return root
}
