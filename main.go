package main

import "github.com/inplacehq/onboardbot/cmd"

func main() {
	cmd.Execute()
}
