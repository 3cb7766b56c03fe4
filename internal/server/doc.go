/*
Package server 管理 entitygraph HTTP 与 Metrics 端口的生命周期。

Manager 封装 net/http.Server：Start 非阻塞监听（配置证书时通过 tlsutil
的加固配置以 TLS 监听），Shutdown 在超时内排空请求，WaitForShutdown
监听 SIGINT/SIGTERM 或异步服务错误后自动关闭。Addr 在启动后返回实际
绑定地址，便于 ":0" 随机端口的测试。
*/
package server
