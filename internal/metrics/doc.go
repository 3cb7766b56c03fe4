// 版权所有 2024 EntityGraph Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的流水线指标采集能力，覆盖
关系检测、图构建、分块与缓存四个维度。

# 核心类型

  - Collector：指标收集器，通过 promauto.With 注册到调用方给定的
    Registerer（nil 时为默认 Registerer）。nil *Collector 的记录方法为空操作，
    组件无需判断是否启用指标。

# 主要能力

  - 检测指标：候选关系数（按 method/kind）、单实体检测耗时、采样不可用次数。
  - 构建指标：构建次数（按根实体与结果状态）、构建耗时、每图节点数、拉取失败数。
  - 分块指标：输出块数与块长度分布。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
*/
package metrics
