package main

import (
	"vol-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
