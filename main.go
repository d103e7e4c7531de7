package main

import "github.com/andresmejia3/portrait/cmd"

func main() {
	cmd.Execute()
}
