package main

import (
	"zhihu-archive/cmd/zhihu/commands"
	"zhihu-archive/internal/osutil"
)

func main() {
	commands.ExecuteContext(osutil.SignalContext())
}
