package main

import "github.com/sdaf-automation/sdaf-wizard/cmd"

func main() {
	cmd.Execute()
}
