package main

import "github.com/roomrelay/roomrelay/cmd/roomrelay/cmd"

func main() {
	cmd.Execute()
}
