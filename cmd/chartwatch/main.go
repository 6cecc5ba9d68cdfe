package main

import (
	_ "time/tzdata"

	"chartwatch/cmd/chartwatch/commands"
	"chartwatch/lib/util/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
