package main

import "github.com/campusrun/dispatch/services/sweeper/cli"

func main() {
	cli.Execute()
}
