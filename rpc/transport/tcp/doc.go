// Package tcp plugs TCP sockets into the framed transport of the base package.
//
// Both sides apply the SocketConf and TCPConf options of their configuration to every
// connection (no-delay, buffer sizes, keep-alive and linger). See the base package
// for framing, pooling and retries.
//
// The default server buffer size is 512 KB.
package tcp
