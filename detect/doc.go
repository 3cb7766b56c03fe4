/*
Package detect 推断实体之间的候选关系（隐式外键）。

# 检测阶段

每个非主键、非嵌套字段依次经过三个独立阶段：

  - 命名规则: 去掉 _id / Id / ID / _ref / _reference 等后缀，
    按单复数形式匹配已知实体，置信度固定（默认 0.6）
  - 值形态: 采样值的主导形态（整数、十六进制、UUID）与目标实体
    主键形态一致时输出候选，置信度为主导形态占比
  - 统计重叠: 基数比足够高时，计算采样值与各实体主键样本的重叠率，
    取最佳目标，置信度为重叠率

同一 (LocalKey, TargetEntity) 的候选取最大置信度，Evidence 记录所有命中阶段。
低于 ConfidenceThreshold 的候选被丢弃；同一字段的多个目标按置信度编排 Rank。

# 失败语义

采样失败（SamplingUnavailable 或传输错误）只让对应阶段不产生候选，
Detect 仅在 ctx 取消时返回 CANCELLED。

# 缓存

Cache 以模式指纹（xxhash）为键持有快照，实现 types.CandidateSource；
可选的 RedisStore 让多个进程共享检测结果。
*/
package detect
