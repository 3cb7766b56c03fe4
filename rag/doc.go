// Copyright 2025-2026 EntityGraph Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package rag 把实体图转换为可嵌入的上下文分块。

管线最后一段：graph.Graph 先被展平为规范文本，再按字符预算切分为
带重叠的分块，每个分块归属到根记录的命名空间下，交给外部的嵌入/存储方。

# 核心接口/类型

  - ContextChunker — 展平 + 切分 + 打包（Chunk / Stats）
  - ContextChunk / ChunkMetadata — 分块及其元数据
  - Tokenizer — 分块 token 计数（TiktokenTokenizer / EstimatorTokenizer）
  - Span — rune 偏移区间

# 主要能力

  - 展平：Flatten 深度优先先序渲染，超过截断深度的子节点只保留引用行
  - 切分：SplitText 按段落、换行、句末、单词边界的优先级寻找断点，70% 窗口下限
  - 命名空间：Namespace / ParseNamespace，对 ':' 与 '\' 转义，保证可逆
  - 统计：ChunkStats 给出文本长度、分块数与平均分块大小

所有函数都是纯函数：相同的图与参数得到逐字节相同的输出。
*/
package rag
