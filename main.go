package main

import "github.com/puravida-software/edgeauth/cmd"

func main() {
	cmd.Execute()
}
