package main

import "github.com/GhostN3xus/bigipxxe/pkg/cli/cmd"

func main() {
	cmd.Execute()
}
