//go:build integration

package pool_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/neobolt/driver/auth"
	"github.com/neobolt/driver/conn"
	"github.com/neobolt/driver/message"
	"github.com/neobolt/driver/pool"
)

const (
	neo4jImage    = "neo4j:5"
	neo4jAuthUser = "neo4j"
	neo4jAuthPass = "neobolt-test-password"
)

// startNeo4j launches a real Neo4j container via testcontainers-go's
// generic-container API (no module-specific wrapper exists for Bolt, unlike
// the teacher's testcontainers-go/modules/mysql) and returns its Bolt
// address, grounded on the teacher's startMySQL container-lifecycle pattern
// (proxy/mysql/proxy_test.go).
func startNeo4j(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        neo4jImage,
		ExposedPorts: []string{"7687/tcp"},
		Env: map[string]string{
			"NEO4J_AUTH": fmt.Sprintf("%s/%s", neo4jAuthUser, neo4jAuthPass),
		},
		WaitingFor: wait.ForListeningPort("7687/tcp").WithStartupTimeout(2 * time.Minute),
	}
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, ctr.Terminate(context.Background()))
	})

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "7687/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestPoolAgainstRealNeo4j(t *testing.T) {
	addr := startNeo4j(t)

	p := pool.New(pool.Config{
		ConnConfig:     conn.Config{Address: addr, RequestTimeout: 10 * time.Second},
		Auth:           auth.Basic(neo4jAuthUser, neo4jAuthPass, ""),
		MaxSize:        2,
		MinSize:        1,
		ConnectTimeout: 10 * time.Second,
		AcquireTimeout: 10 * time.Second,
	})
	defer p.Close()

	ctx := context.Background()
	c, err := p.Acquire(ctx)
	require.NoError(t, err)

	keys, err := c.Run(ctx, "RETURN 1 AS n", nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"n"}, keys)

	var got int64
	_, err = c.Pull(ctx, -1, func(r message.Record) error {
		got, _ = r.Data[0].(int64)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), got)

	p.Release(c)
	require.Equal(t, 1, p.Stats().Idle)
}
