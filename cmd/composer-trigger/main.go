package main

import "github.com/druarnfield/composer-trigger/internal/cli"

func main() {
	cli.Execute()
}
