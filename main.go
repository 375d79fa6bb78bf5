package main

import "github.com/parleychat/parley/cmd"

func main() {
	cmd.Execute()
}
