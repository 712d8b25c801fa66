//go:build !unix

package main

import "github.com/sirupsen/logrus"

// watchMemoryPressure 在没有 SIGUSR1 的平台上不做任何事，内存修剪只能通过 POST /-/trim 触发。
func watchMemoryPressure(_ memoryTrimmer, _ *logrus.Logger) func() {
	return func() {}
}
