package main

import "github.com/lzcstory/lzcstory/cmd"

func main() {
	cmd.Execute()
}
