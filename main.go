package main

import "github.com/lodestarhq/lodestar/cmd"

func main() {
	cmd.Execute()
}
