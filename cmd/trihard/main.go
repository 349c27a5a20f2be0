package main

import "github.com/embedkit/trihard/cmd/trihard/cmd"

func main() {
	cmd.Execute()
}
