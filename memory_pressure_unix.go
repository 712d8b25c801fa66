//go:build unix

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

// watchMemoryPressure 将 SIGUSR1 视为宿主的内存压力通知，收到后丢弃内存层。
// 返回的 stop 函数注销信号并结束监听协程。
func watchMemoryPressure(trimmer memoryTrimmer, logger *logrus.Logger) func() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGUSR1)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-signals:
				logger.WithFields(logrus.Fields{
					"action": "trim",
					"signal": "SIGUSR1",
				}).Info("memory_pressure_signal")
				trimmer.TrimMemory()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(signals)
		close(done)
	}
}
