//go:build debug

package debug

import "fmt"

const enabled = true

func sprintf(format string, args ...interface{}) string { return fmt.Sprintf(format, args...) }
