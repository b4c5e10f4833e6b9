// Package config 提供 mediaflow 的配置管理功能。
//
// 配置在启动时一次性加载（默认值 → YAML → 环境变量），加载后只读；
// 代理白名单等安全相关配置不支持运行时修改。
package config
