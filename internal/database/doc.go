// 版权所有 2024 EntityGraph Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接池管理，供 SQL 数据源读取记录与采样。

# 概述

本包通过 PoolManager 封装 GORM 与 database/sql 的连接池配置，
统一管理连接生命周期、空闲回收与最大连接数限制。后台健康检查
定时探活，异常时通过 zap 日志输出诊断信息。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置。
  - QueryFunc：查询回调函数类型。

# 主要能力

  - 方言选择：Dialector 支持 postgres、mysql 与纯 Go 的 sqlite。
  - 健康检查：后台定时 PingContext 探活，Close 时停止。
  - 查询重试：WithRetry 对死锁、连接中断等错误指数退避重试。
*/
package database
