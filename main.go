package main

import "github.com/keyward/apiserver/cmd"

func main() {
	cmd.Execute()
}
