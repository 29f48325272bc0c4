package main

import (
	"exodusd/internal/cli"
)

func main() {
	cli.Execute()
}
