package main

import "github.com/devicelab-dev/ditto-runner/pkg/cli"

func main() {
	cli.Execute()
}
