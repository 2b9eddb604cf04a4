package main

import "github.com/orgboard/orgsync/cmd"

func main() {
	cmd.Execute()
}
