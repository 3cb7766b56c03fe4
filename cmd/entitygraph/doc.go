/*
Package main 提供 entitygraph 命令行与服务端程序入口。

# 概述

cmd/entitygraph 读取 YAML 配置与 ENTITYGRAPH_ 环境变量，按 source 配置
连接数据源（memory fixture、SQL、MongoDB），执行关系检测、实体图构建与分块。
既可一次性输出结果，也可作为 HTTP 服务常驻运行。

# 核心类型

  - Server      — 主服务器，管理 HTTP、Metrics 双端口、Pipeline 热替换及优雅关闭
  - Middleware  — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：detect（候选关系）、build（JSONL 分块或展平文本）、serve、health、version
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、Metrics、
    RequestLogger、CORS、RateLimiter（基于 IP）、APIKeyAuth（X-API-Key）
  - 文件监听：配置文件或 fixture 变更后重建 Pipeline，旧实例延迟关闭
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 停止后台任务 → 关闭 HTTP → 关闭 Metrics → 释放数据源
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
