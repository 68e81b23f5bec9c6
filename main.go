package main

import "stake-hedge-watcher/internal/cli"

func main() {
	cli.Execute()
}
