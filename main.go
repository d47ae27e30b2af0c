package main

import "github.com/mtrbls/llmhive/cmd"

func main() {
	cmd.Execute()
}
