package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/rpc/common"
	"github.com/ValentinKolb/sKV/rpc/serializer"
	"github.com/ValentinKolb/sKV/rpc/server"
	"github.com/ValentinKolb/sKV/rpc/transport"
	httpTransport "github.com/ValentinKolb/sKV/rpc/transport/http"
	"github.com/ValentinKolb/sKV/rpc/transport/tcp"
	"github.com/ValentinKolb/sKV/rpc/transport/unix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSetup is one combination of transport and serializer
type testSetup struct {
	name       string
	endpoint   func(t *testing.T) string
	server     func() transport.IRPCServerTransport
	client     func() transport.IRPCClientTransport
	serializer func() serializer.IRPCSerializer
}

func freeTCPAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func socketPath(t *testing.T) string {
	// unix socket paths are limited to ~100 bytes, t.TempDir can be longer
	dir, err := os.MkdirTemp("", "skv")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "skv.sock")
}

var testSetups = []testSetup{
	{
		name:       "unix-binary",
		endpoint:   socketPath,
		server:     func() transport.IRPCServerTransport { return unix.NewUnixDefaultServerTransport(4) },
		client:     unix.NewUnixClientTransport,
		serializer: serializer.NewBinarySerializer,
	},
	{
		name:       "tcp-cbor",
		endpoint:   freeTCPAddr,
		server:     func() transport.IRPCServerTransport { return tcp.NewTCPDefaultServerTransport(4) },
		client:     tcp.NewTCPClientTransport,
		serializer: serializer.NewCBORSerializer,
	},
	{
		name:       "http-json",
		endpoint:   freeTCPAddr,
		server:     httpTransport.NewHttpServerTransport,
		client:     httpTransport.NewHttpClientTransport,
		serializer: serializer.NewJSONSerializer,
	},
}

// startServer serves two shards and returns a connected client for shard 1
func startServer(t *testing.T, setup testSetup) (store.IStore, string) {
	endpoint := setup.endpoint(t)
	config := common.ServerConfig{
		Shards: []common.ServerShard{
			{ShardID: 1, Dir: filepath.Join(t.TempDir(), "1")},
			{ShardID: 2, Dir: filepath.Join(t.TempDir(), "2")},
		},
		Store: common.StoreConfig{
			Compression:          "snappy",
			WriterPolicy:         "fail-fast",
			SessionTimeoutSecond: 30,
		},
		TimeoutSecond: 5,
		Transport: common.ServerTransportConfig{
			Endpoint:       endpoint,
			WorkersPerConn: 4,
		},
		LogLevel: "error",
	}

	srv := server.NewRPCServer(config, setup.server(), setup.serializer())
	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	clientConfig := common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:              []string{endpoint},
			RetryCount:             2,
			ConnectionsPerEndpoint: 2,
		},
	}

	var s store.IStore
	require.Eventually(t, func() bool {
		c, err := NewRPCStore(1, clientConfig, setup.client(), setup.serializer())
		if err != nil {
			return false
		}
		if _, err := c.Stats(); err != nil {
			_ = c.Close()
			return false
		}
		s = c
		return true
	}, 5*time.Second, 20*time.Millisecond)

	t.Cleanup(func() {
		_ = s.Close()
		require.NoError(t, srv.Close())
		require.NoError(t, <-done)
	})
	return s, endpoint
}

func TestRemoteStore(t *testing.T) {
	for _, setup := range testSetups {
		t.Run(setup.name, func(t *testing.T) {
			s, _ := startServer(t, setup)

			// transaction isolation
			tx, err := s.Begin(true)
			require.NoError(t, err)
			require.NoError(t, s.Set(tx, []byte("a"), []byte("1")))
			require.NoError(t, s.Set(tx, []byte("b"), []byte{}))

			val, found, err := s.Get(tx, []byte("a"))
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, []byte("1"), val)

			_, found, err = s.Get(store.AutoCommit, []byte("a"))
			require.NoError(t, err)
			assert.False(t, found, "uncommitted write visible outside the transaction")

			require.NoError(t, s.Commit(tx))

			val, found, err = s.Get(store.AutoCommit, []byte("a"))
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, []byte("1"), val)

			// empty values stay found
			val, found, err = s.Get(store.AutoCommit, []byte("b"))
			require.NoError(t, err)
			assert.True(t, found)
			assert.NotNil(t, val)
			assert.Empty(t, val)

			// auto commit writes
			for i := 0; i < 20; i++ {
				require.NoError(t, s.Set(store.AutoCommit, []byte(fmt.Sprintf("k%02d", i)), []byte(fmt.Sprint(i))))
			}
			existed, err := s.Delete(store.AutoCommit, []byte("k05"))
			require.NoError(t, err)
			assert.True(t, existed)
			existed, err = s.Delete(store.AutoCommit, []byte("k05"))
			require.NoError(t, err)
			assert.False(t, existed)

			// scans
			pairs, err := s.Scan(store.AutoCommit, []byte("k"), false, 3)
			require.NoError(t, err)
			require.Len(t, pairs, 3)
			assert.Equal(t, []byte("k00"), pairs[0].Key)
			assert.Equal(t, []byte("k02"), pairs[2].Key)

			pairs, err = s.Scan(store.AutoCommit, nil, true, 0)
			require.NoError(t, err)
			require.Len(t, pairs, 21)
			assert.Equal(t, []byte("k19"), pairs[0].Key)
			assert.Equal(t, []byte("a"), pairs[20].Key)

			pairs, err = s.Scan(store.AutoCommit, []byte("zzz"), false, 0)
			require.NoError(t, err)
			assert.Empty(t, pairs)

			// rollback
			tx, err = s.Begin(true)
			require.NoError(t, err)
			require.NoError(t, s.Set(tx, []byte("a"), []byte("2")))
			require.NoError(t, s.Rollback(tx))
			val, _, err = s.Get(store.AutoCommit, []byte("a"))
			require.NoError(t, err)
			assert.Equal(t, []byte("1"), val)

			// stats and compaction
			stats, err := s.Stats()
			require.NoError(t, err)
			assert.Equal(t, db.ImplOak, stats.DbType)
			assert.Equal(t, uint64(21), stats.KeyCount)
			_, err = s.Compact(false)
			require.NoError(t, err)
			more, err := s.Compact(true)
			require.NoError(t, err)
			assert.False(t, more)
			val, _, err = s.Get(store.AutoCommit, []byte("a"))
			require.NoError(t, err)
			assert.Equal(t, []byte("1"), val)
		})
	}
}

func TestRemoteErrors(t *testing.T) {
	for _, setup := range testSetups {
		t.Run(setup.name, func(t *testing.T) {
			s, _ := startServer(t, setup)

			// a second writer conflicts
			tx, err := s.Begin(true)
			require.NoError(t, err)
			_, err = s.Begin(true)
			require.Error(t, err)
			assert.ErrorIs(t, err, db.ErrTransactionConflict)

			var storeErr *store.Error
			require.True(t, errors.As(err, &storeErr))
			assert.Equal(t, store.RetCConflict, storeErr.Code)
			assert.NotContains(t, storeErr.Msg, "KVStoreError", "message must not be wrapped twice")
			require.NoError(t, s.Rollback(tx))

			// unknown handle
			err = s.Commit(tx)
			require.True(t, errors.As(err, &storeErr))
			assert.Equal(t, store.RetCTxNotFound, storeErr.Code)

			// writes in a read transaction
			tx, err = s.Begin(false)
			require.NoError(t, err)
			err = s.Set(tx, []byte("x"), []byte("y"))
			require.True(t, errors.As(err, &storeErr))
			assert.Equal(t, store.RetCReadOnly, storeErr.Code)
			assert.ErrorIs(t, err, db.ErrReadOnly)
			require.NoError(t, s.Rollback(tx))
		})
	}
}

func TestUnknownShard(t *testing.T) {
	setup := testSetups[0]
	_, endpoint := startServer(t, setup)

	s, err := NewRPCStore(99, common.ClientConfig{
		TimeoutSecond: 5,
		Transport:     common.ClientTransportConfig{Endpoints: []string{endpoint}},
	}, setup.client(), setup.serializer())
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.Get(store.AutoCommit, []byte("a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shard 99 not found")
}

func TestShardsAreIndependent(t *testing.T) {
	setup := testSetups[0]
	s1, endpoint := startServer(t, setup)

	s2, err := NewRPCStore(2, common.ClientConfig{
		TimeoutSecond: 5,
		Transport:     common.ClientTransportConfig{Endpoints: []string{endpoint}},
	}, setup.client(), setup.serializer())
	require.NoError(t, err)
	defer s2.Close()

	require.NoError(t, s1.Set(store.AutoCommit, []byte("k"), []byte("1")))
	_, found, err := s2.Get(store.AutoCommit, []byte("k"))
	require.NoError(t, err)
	assert.False(t, found)

	// writers of different shards do not conflict
	tx1, err := s1.Begin(true)
	require.NoError(t, err)
	tx2, err := s2.Begin(true)
	require.NoError(t, err)
	require.NoError(t, s1.Rollback(tx1))
	require.NoError(t, s2.Rollback(tx2))
}

func TestMetricsEndpoint(t *testing.T) {
	setup := testSetups[2]
	s, endpoint := startServer(t, setup)
	require.NoError(t, s.Set(store.AutoCommit, []byte("k"), []byte("v")))

	resp, err := http.Get("http://" + endpoint + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `store="1"`), "store metrics missing:\n%s", body)
	assert.True(t, strings.Contains(string(body), "process_"), "process metrics missing")
}
