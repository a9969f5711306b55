package main

import (
	_ "embed"

	cli "github.com/muatool/dashboard/cmd/muatool"
)

//go:embed etc/muatool.yaml
var embeddedConfig []byte

func main() {
	cli.Execute(embeddedConfig)
}
