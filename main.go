package main

import (
	"os"

	"github.com/nkthebass/XenoCPUUtility-legacy/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
