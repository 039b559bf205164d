package main

import "github.com/Sentinel-Gate/sentinelscan/cmd/sentinel-scan/cmd"

func main() {
	cmd.Execute()
}
