package main

import "github.com/vietddude/outbox/internal/cli"

func main() {
	cli.Execute()
}
