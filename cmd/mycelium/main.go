package main

import "mycelium/internal/cli"

func main() {
	cli.Execute()
}
