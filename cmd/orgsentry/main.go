package main

import "github.com/mayritza/orgsentry/cmd/orgsentry/commands"

func main() {
	commands.Execute()
}
