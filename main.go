package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	// 初始化控制台
	InitFlag()
	// 开始安全退出任务
	exit, ctx := NewSafeExit(context.Background())
	// 初始化配置
	conf, err := InitConf(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyFlags(conf)
	// 初始化日志
	log, logFile, err := InitLog(conf, logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	exit.Register(func() { logFile.Close() })

	// 开始任务
	task, err := NewTask(conf, log, exit)
	if err != nil {
		log.Errorf("init task: %s", err)
		exit.Close()
		os.Exit(1)
	}
	if err := task.Run(ctx); err != nil {
		task.log.Errorf("task %s failed: %s", task.ID, err)
		exit.Close()
		os.Exit(1)
	}
	exit.Close()
}
