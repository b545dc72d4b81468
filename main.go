package main

import "humanloop/cmd"

func main() {
	cmd.Execute()
}
