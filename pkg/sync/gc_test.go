package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shinyes/yep_cvrdt/pkg/crdt"
)

func TestGCManager_RunOnce(t *testing.T) {
	s := crdt.MustNewORSet[string]("A")
	s.Add("x")
	s.Remove("x")

	f := NewGCFloor("A", WithMinPeers(0))
	require.NoError(t, f.Register("set", s))
	require.NoError(t, f.Observe("A", clock(map[crdt.NodeID]uint64{"A": 1})))

	var mu sync.Mutex
	gm := NewGCManager(f, &mu)

	res := gm.RunOnce()
	require.Equal(t, 1, res.Dropped)

	res = gm.RunOnce()
	require.Zero(t, res.Dropped)

	stats := gm.GetStats()
	require.Equal(t, int64(2), stats.TotalRuns)
	require.Equal(t, int64(1), stats.ProductiveRuns)
	require.Equal(t, int64(1), stats.TotalDropped)
}

func TestGCManager_StartStop(t *testing.T) {
	s := crdt.MustNewORSet[string]("A")
	f := NewGCFloor("A", WithMinPeers(0), WithGCInterval(5*time.Millisecond))
	require.NoError(t, f.Register("set", s))
	require.NoError(t, f.Observe("A", clock(map[crdt.NodeID]uint64{"A": 0})))

	var mu sync.Mutex
	gm := NewGCManager(f, &mu)
	gm.Start(context.Background())
	gm.Start(context.Background()) // 重复启动不做任何事

	// 修改与回收由同一把锁串行化
	for i := range 20 {
		mu.Lock()
		s.Add("x")
		if i%2 == 0 {
			s.Remove("x")
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return gm.GetStats().TotalRuns > 0
	}, time.Second, 5*time.Millisecond)

	gm.Stop()
	gm.Stop()

	runs := gm.GetStats().TotalRuns
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, runs, gm.GetStats().TotalRuns, "Stop 之后不应再执行")
}
