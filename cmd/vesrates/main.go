package main

import (
	_ "time/tzdata"

	"vesrates/internal/cli"
)

func main() {
	cli.Execute()
}
