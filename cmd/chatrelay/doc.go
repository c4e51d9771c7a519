/*
Package main 提供 chatrelay 服务端程序入口。

# 概述

cmd/chatrelay 是浏览器会话中继服务的可执行入口，对外暴露
OpenAI 兼容的 chat/completions API，后端由受控浏览器会话驱动
各个 Web 聊天站点。程序支持 YAML 配置文件加载、环境变量覆盖、
结构化日志（zap）与 Prometheus 指标采集。

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - 服务装配：SQLite（账号目录 + 登录会话）、浏览器引擎、
    会话池、站点驱动注册表、并发闸门、编排器、HTTP 路由
  - 认证：Authorization Bearer 密钥校验（未配置密钥时放行）
  - 优雅关闭：信号监听 → 排空 HTTP → 关闭会话池 → 关闭浏览器
    引擎 → 关闭数据库
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
