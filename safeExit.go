package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// SafeExit 收到信号时取消任务, 退出前按注册的逆序执行清理
type SafeExit struct {
	funcs  []func()
	mu     sync.Mutex
	cancel context.CancelFunc
	once   sync.Once
}

// NewSafeExit 返回随信号取消的 context
func NewSafeExit(parent context.Context) (*SafeExit, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s := &SafeExit{cancel: cancel}
	go s.ListenSignal()
	return s, ctx
}

func (s *SafeExit) Register(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.funcs = append(s.funcs, f)
}

// Close 执行清理, 只执行一次
func (s *SafeExit) Close() {
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i := len(s.funcs) - 1; i >= 0; i-- {
			s.funcs[i]()
		}
	})
}

func (s *SafeExit) ListenSignal() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	interrupted := false
	for singal := range sigs {
		if !interrupted {
			// 第一次只取消, 由任务自己保存断点后返回
			interrupted = true
			fmt.Fprintf(os.Stderr, "收到系统信号 %s, 正在停止任务, 请稍后\n", singal)
			s.cancel()
			continue
		}
		fmt.Fprintf(os.Stderr, "再次收到系统信号 %s, 立即退出\n", singal)
		s.Close()
		os.Exit(1)
	}
}
