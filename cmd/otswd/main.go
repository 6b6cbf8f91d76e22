package main

import "github.com/OpenTraceLab/OpenTraceSWD/cmd/otswd/cmd"

func main() {
	cmd.Execute()
}
