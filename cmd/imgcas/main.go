package main

import "github.com/aweris/imgcas/cmd/imgcas/cmd"

func main() {
	cmd.Execute()
}
