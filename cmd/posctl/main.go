package main

import "colorstock/backend/internal/cli"

func main() {
	cli.Execute()
}
