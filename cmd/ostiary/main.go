package main

import "github.com/ostiary-ai/ostiary/cmd/ostiary/cmd"

func main() {
	cmd.Execute()
}
