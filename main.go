package main

import "github.com/kozaktomas/classroom-attendance/cmd"

func main() {
	cmd.Execute()
}
