package pipeline

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/rnalign/seq"
)

func makeTrays(t *testing.T, n int) []*Tray {
	var out []*Tray
	for i := 1; i <= n; i++ {
		c, err := seq.NewCSeq(fmt.Sprintf("q%d", i), "AGCU")
		require.NoError(t, err)
		out = append(out, &Tray{SeqNo: int64(i), Input: c})
	}
	return out
}

func feed(trays []*Tray) <-chan *Tray {
	ch := make(chan *Tray, 4)
	go func() {
		for _, t := range trays {
			ch <- t
		}
		close(ch)
	}()
	return ch
}

// jitterStage sleeps a random amount to scramble completion order.
type jitterStage struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *jitterStage) Process(t *Tray) error {
	s.mu.Lock()
	d := time.Duration(s.rng.Intn(3)) * time.Millisecond
	s.mu.Unlock()
	time.Sleep(d)
	t.Logf("seen %d;", t.SeqNo)
	return nil
}

func TestRunOrdered(t *testing.T) {
	const n = 100
	workers := make([]Stage, 8)
	for i := range workers {
		workers[i] = &jitterStage{rng: rand.New(rand.NewSource(int64(i)))}
	}

	var got []int64
	err := Run(Options{Ordered: true},
		feed(makeTrays(t, n)),
		[]StageSpec{{Name: "jitter", Workers: workers}},
		func(tr *Tray) error {
			got = append(got, tr.SeqNo)
			return nil
		})
	require.NoError(t, err)
	require.Len(t, got, n)
	for i, no := range got {
		expect.EQ(t, no, int64(i+1))
	}
}

func TestRunUnordered(t *testing.T) {
	const n = 50
	workers := make([]Stage, 4)
	for i := range workers {
		workers[i] = &jitterStage{rng: rand.New(rand.NewSource(int64(i)))}
	}
	seen := map[int64]bool{}
	err := Run(Options{},
		feed(makeTrays(t, n)),
		[]StageSpec{{Name: "jitter", Workers: workers}},
		func(tr *Tray) error {
			seen[tr.SeqNo] = true
			return nil
		})
	require.NoError(t, err)
	expect.EQ(t, len(seen), n)
}

func TestRunStageError(t *testing.T) {
	fail := StageFunc(func(tr *Tray) error {
		if tr.SeqNo == 3 {
			return fmt.Errorf("boom on %d", tr.SeqNo)
		}
		return nil
	})
	count := 0
	err := Run(Options{},
		feed(makeTrays(t, 10)),
		[]StageSpec{Singleton("fail", fail)},
		func(tr *Tray) error {
			count++
			return nil
		})
	require.Error(t, err)
	// in-flight trays drain even after the failure
	expect.EQ(t, count, 10)
}

func TestRunMultiStage(t *testing.T) {
	first := StageFunc(func(tr *Tray) error {
		tr.Logf("first;")
		return nil
	})
	second := StageFunc(func(tr *Tray) error {
		tr.Logf("second;")
		return nil
	})
	var logs []string
	err := Run(Options{Ordered: true},
		feed(makeTrays(t, 5)),
		[]StageSpec{Singleton("first", first), Singleton("second", second)},
		func(tr *Tray) error {
			logs = append(logs, tr.Log.String())
			return nil
		})
	require.NoError(t, err)
	require.Len(t, logs, 5)
	for _, lg := range logs {
		expect.EQ(t, lg, "first;second;")
	}
}
