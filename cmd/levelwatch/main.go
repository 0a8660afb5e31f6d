package main

import "levelwatch/internal/cli"

func main() {
	cli.Execute()
}
