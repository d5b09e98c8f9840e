package main

import "github.com/dglocal/dglocal/cmd"

func main() {
	cmd.Execute()
}
