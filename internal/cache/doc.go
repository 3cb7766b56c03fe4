// 版权所有 2024 EntityGraph Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存管理能力，作为关系候选集的共享二级缓存。

# 核心类型

  - Manager：缓存管理器，持有 Redis 客户端，所有键自动加上 KeyPrefix，
    提供 Get/Set/Delete/DeletePrefix 与 GetJSON/SetJSON。
  - Config：地址、密码、连接池大小、默认 TTL、TLS 开关与键前缀。

# 主要能力

  - 键值读写：字符串与 JSON 两种模式。
  - 前缀失效：DeletePrefix 通过 SCAN 批量删除一个命名空间下的键。
  - TLS：启用时使用 tlsutil.ClientTLSConfig。
  - 错误语义：ErrCacheMiss 哨兵错误与 IsCacheMiss 判断函数。
*/
package cache
