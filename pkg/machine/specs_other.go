//go:build !linux

package machine

import (
	"runtime"
	"strings"
)

func osType() string {
	if runtime.GOOS == "" {
		return ""
	}
	return strings.ToUpper(runtime.GOOS[:1]) + runtime.GOOS[1:]
}

func osRelease() string {
	return ""
}

func totalMemory() int64 {
	return 0
}
