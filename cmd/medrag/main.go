package main

import "medrag/internal/cli"

func main() {
	cli.Execute()
}
