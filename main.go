package main

import "github.com/dayuer/tgchat-go/cmd"

func main() {
	cmd.Execute()
}
