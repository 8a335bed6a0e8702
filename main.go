package main

import "github.com/CyberDay1/the-expanse/cmd"

func main() {
	cmd.Execute()
}
