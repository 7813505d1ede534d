package main

import "github.com/sandboxd/sandboxd/cmd"

func main() {
	cmd.Execute()
}
