package base_test

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/rpc/common"
	"github.com/ValentinKolb/sKV/rpc/transport"
	"github.com/ValentinKolb/sKV/rpc/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// echoServer answers every request with "<shard>:<payload>"
func echoServer(t *testing.T, addr string) transport.IRPCServerTransport {
	t.Helper()
	srv := tcp.NewTCPServerTransport(4096, 4)
	srv.RegisterHandler(func(shardId uint64, req []byte) []byte {
		return []byte(fmt.Sprintf("%d:%s", shardId, req))
	})

	done := make(chan error, 1)
	go func() {
		done <- srv.Listen(common.ServerConfig{
			TimeoutSecond: 5,
			Transport:     common.ServerTransportConfig{Endpoint: addr},
		})
	}()
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 5*time.Second, 10*time.Millisecond)

	t.Cleanup(func() {
		_ = srv.Close()
		<-done
	})
	return srv
}

func connect(t *testing.T, addr string, connsPerEndpoint int) transport.IRPCClientTransport {
	t.Helper()
	client := tcp.NewTCPClientTransport()
	require.NoError(t, client.Connect(common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:              []string{addr},
			RetryCount:             5,
			ConnectionsPerEndpoint: connsPerEndpoint,
			TCPConf:                common.TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
		},
	}))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestConcurrentRequests(t *testing.T) {
	addr := freeAddr(t)
	echoServer(t, addr)
	client := connect(t, addr, 2)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				req := fmt.Sprintf("g%d-r%d", g, i)
				resp, err := client.Send(uint64(g), []byte(req))
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, fmt.Sprintf("%d:%s", g, req), string(resp))
			}
		}()
	}
	wg.Wait()
}

func TestClientRedialsAfterServerRestart(t *testing.T) {
	addr := freeAddr(t)
	first := echoServer(t, addr)
	client := connect(t, addr, 1)

	resp, err := client.Send(1, []byte("before"))
	require.NoError(t, err)
	assert.Equal(t, "1:before", string(resp))

	require.NoError(t, first.Close())
	echoServer(t, addr)

	// the broken connection is replaced on one of the retries
	resp, err = client.Send(1, []byte("after"))
	require.NoError(t, err)
	assert.Equal(t, "1:after", string(resp))
}

func TestSendAfterClose(t *testing.T) {
	addr := freeAddr(t)
	echoServer(t, addr)
	client := connect(t, addr, 1)

	require.NoError(t, client.Close())
	_, err := client.Send(1, []byte("x"))
	assert.Error(t, err)
}

func TestConnectWithoutServer(t *testing.T) {
	client := tcp.NewTCPClientTransport()
	err := client.Connect(common.ClientConfig{
		TimeoutSecond: 1,
		Transport:     common.ClientTransportConfig{Endpoints: []string{freeAddr(t)}},
	})
	assert.Error(t, err)
}
