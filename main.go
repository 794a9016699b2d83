package main

import "github.com/pesalend/loan-intake/cmd"

func main() {
	cmd.Execute()
}
