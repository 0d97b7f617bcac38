package main

import "github.com/shellmux/shellmux/internal/cmd"

func main() {
	cmd.Execute()
}
