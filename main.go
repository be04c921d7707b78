package main

import "rvdb/cmd"

func main() {
	cmd.Execute()
}
