package main

import "github.com/campusrun/dispatch/services/dispatch/cli"

func main() {
	cli.Execute()
}
