package main

import "github.com/tobyv/manualgrab/cmd"

func main() {
	cmd.Execute()
}
