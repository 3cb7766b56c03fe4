// Copyright (c) EntityGraph Authors.
// Licensed under the MIT License.

/*
Package types 提供 EntityGraph 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 detect、graph、rag、source
等上层模块提供统一的类型契约，避免循环依赖。

# 核心类型

  - Value                 — 记录数据的 tagged union（Null/Bool/Number/String/Timestamp/List/Map）
  - Field                 — 实体字段描述（类型、可空、主键/外键标记）
  - RelationshipCandidate — 带置信度的外键关系假设
  - CandidateSource       — 图构建读取候选关系的接口，CandidateSet 为静态实现
  - Error / ErrorCode     — 结构化错误体系（NOT_FOUND、CONFIG_INVALID 等）

# 主要能力

  - 显式构造：FromAny 通过 type switch 将行/文档转换为 Value，不使用反射
  - 规范键：Value.Key 统一数值与字符串主键的比较形式
  - 错误工具链：AsError / GetErrorCode / IsErrorCode / IsRetryable / IsNotFound
*/
package types
