package main

import "github.com/turbolytics/porter/internal/cmd"

func main() {
	cmd.Execute()
}
