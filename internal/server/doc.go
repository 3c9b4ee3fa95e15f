// 版权所有 2024 Standforge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 Standforge 的 HTTP 服务器生命周期：非阻塞启动、
优雅关闭与系统信号监听。

# 概述

Manager 封装 net/http.Server。API 服务与 metrics 服务各持有一个
Manager，由 WaitForSignal 统一等待 SIGINT/SIGTERM 或任一服务器的
异常退出，随后由调用方依次 Shutdown。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start/Shutdown/Errors/ListenAddr。
  - Config：监听地址与超时设置，ConfigFrom 从 config.ServerConfig 派生。
*/
package server
