package main

import (
	"github.com/mj1618/smartscript/cmd"

	_ "github.com/mj1618/smartscript/internal/platform/adb"
	_ "github.com/mj1618/smartscript/internal/platform/sshdev"
)

func main() {
	cmd.Execute()
}
