package main

import "github.com/campusrun/dispatch/services/notifier/cli"

func main() {
	cli.Execute()
}
