package version

import (
	"fmt"
	"runtime"
)

// Set by ldflags at build time.
var (
	VERSION  = "unknown"
	REVISION = "unknown"
	BUILTAT  = "unknown"
)

func String() string {
	return fmt.Sprintf("Version:        %s\nGit hash:       %s\nBuilt:          %s\nGolang version: %s\nOS/Arch:        %s/%s\n",
		VERSION, REVISION, BUILTAT, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
