package main

import "github.com/cbout22/fbsync/internal/cli"

func main() {
	cli.Execute()
}
