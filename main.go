package main

import "github.com/estimatehq/followup-engine/cmd"

func main() {
	cmd.Execute()
}
