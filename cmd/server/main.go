package main

import "github.com/SnakeO/gps-catcher/internal/cli"

func main() {
	cli.Execute()
}
