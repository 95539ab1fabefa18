// Package unix plugs Unix domain sockets into the framed transport of the base
// package, for clients on the same machine as the server.
//
// The server removes a stale socket file before listening. Socket buffer sizes from
// SocketConf are applied to every connection. The default server buffer size is 64 KB.
package unix
