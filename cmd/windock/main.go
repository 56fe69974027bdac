package main

import "github.com/bryanchriswhite/windock/cmd/windock/commands"

func main() {
	commands.Execute()
}
