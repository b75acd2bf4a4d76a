package main

import "graphbench/cmd"

func main() {
	cmd.Execute()
}
