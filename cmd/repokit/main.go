package main

import "github.com/nimburion/repokit/pkg/cli"

func main() {
	cli.Execute(cli.NewRootCommand(cli.Options{
		Name:        "repokit",
		Description: "Unit of work, soft delete and domain event toolkit",
		EnvPrefix:   "REPOKIT",
	}))
}
