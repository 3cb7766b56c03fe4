// Package config 提供 EntityGraph 的配置管理功能。
//
// 配置来源按优先级依次为默认值、YAML 文件与 ENTITYGRAPH_* 环境变量，
// 覆盖数据源、关系检测、图构建、分块、Redis、日志、遥测与指标。
// Validate 在任何遍历开始前拒绝非法取值（CONFIG_INVALID）。
package config
