package main

import (
    "log"

    "github.com/spf13/cobra"

    minionscli "github.com/amirimatin/go-minions/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "minionctl",
        Short:         "go-minions role assignment CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    minionscli.AddAll(root)
    return root
}
