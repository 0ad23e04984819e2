package main

import "github.com/nextlevelbuilder/ytmc/cmd"

func main() {
	cmd.Execute()
}
