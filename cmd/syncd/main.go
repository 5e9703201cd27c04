package main

import "github.com/taskhive/syncd/internal/cli"

func main() {
	cli.Execute()
}
