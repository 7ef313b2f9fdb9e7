package main

import "skillbet/internal/cli"

func main() {
	cli.Execute()
}
