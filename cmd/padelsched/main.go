package main

import "github.com/example/padel-scheduler/cmd"

func main() {
	cmd.Execute()
}
