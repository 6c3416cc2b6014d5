//go:build darwin

package tuning

import "golang.org/x/sys/unix"

func systemTotalMemory() uint64 {
	total, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return 0
	}
	return total
}
