package main

import (
	"os"

	"github.com/FollowTheProcess/msg"

	"github.com/foundry-build/forge/cli/cmd"
)

func main() {
	rootCmd := cmd.BuildRootCmd(os.Stdout, os.Stderr)

	if err := rootCmd.Execute(); err != nil {
		msg.Failf("%s", err)
		os.Exit(1)
	}
}
