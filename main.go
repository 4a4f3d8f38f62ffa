package main

import "github.com/skillbank/credvault/cmd"

func main() {
	cmd.Execute()
}
