package main

import "github.com/campushub/campushub/cli"

func main() {
	cli.Execute()
}
