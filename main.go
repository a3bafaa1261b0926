package main

import "github.com/Siddhant-K-code/diffsets/cmd"

func main() {
	cmd.Execute()
}
