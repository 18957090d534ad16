package main

import "github.com/sunward/taskpilot/cmd/taskpilot/commands"

func main() {
	commands.Execute()
}
