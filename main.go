package main

import "github.com/taverntapes/taverntapes/cmd"

func main() {
	cmd.Execute()
}
