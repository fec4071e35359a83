package main

import "github.com/SJKodehode/tutorial-chat-app/internal/cli"

func main() {
	cli.Execute()
}
