package pipeline

import (
	"sort"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// Stage processes one tray at a time. Per-sequence failures go to the tray
// log; only pipeline-fatal conditions are returned as errors.
type Stage interface {
	Process(t *Tray) error
}

// StageFunc adapts a function to the Stage interface.
type StageFunc func(t *Tray) error

// Process implements Stage.
func (f StageFunc) Process(t *Tray) error { return f(t) }

// StageSpec describes one pipeline stage: its implementation pool and
// parallelism. Stages with a single worker behave like single-threaded
// nodes; stages with a worker pool run their workers concurrently, one
// stage instance per worker (instances hold per-worker state such as index
// handles and are never called concurrently).
type StageSpec struct {
	Name    string
	Workers []Stage
}

// Singleton wraps one stage instance into a single-worker spec.
func Singleton(name string, s Stage) StageSpec {
	return StageSpec{Name: name, Workers: []Stage{s}}
}

// Options configures a pipeline run.
type Options struct {
	// Ordered reinstates input order (by Tray.SeqNo) before the sink.
	Ordered bool
	// Buffer is the bounded channel capacity between stages; 0 derives it
	// from the widest stage (2x workers).
	Buffer int
}

// Run reads trays from source, passes them through the stages and hands
// them to sink. Bounded channels between stages enforce backpressure. The
// first stage error cancels the run; in-flight trays drain. The sink runs
// single-threaded.
func Run(opts Options, source <-chan *Tray, stages []StageSpec, sink func(*Tray) error) error {
	buffer := opts.Buffer
	if buffer == 0 {
		widest := 1
		for _, s := range stages {
			if len(s.Workers) > widest {
				widest = len(s.Workers)
			}
		}
		buffer = 2 * widest
	}

	errOnce := errors.Once{}
	in := source
	var wgs []*sync.WaitGroup
	var chans []chan *Tray
	for _, spec := range stages {
		out := make(chan *Tray, buffer)
		chans = append(chans, out)
		wg := &sync.WaitGroup{}
		wgs = append(wgs, wg)
		for _, worker := range spec.Workers {
			wg.Add(1)
			go func(name string, st Stage, in <-chan *Tray, out chan<- *Tray) {
				defer wg.Done()
				for t := range in {
					if errOnce.Err() == nil {
						if err := st.Process(t); err != nil {
							log.Error.Printf("stage %s: %v", name, err)
							errOnce.Set(err)
						}
					}
					out <- t
				}
			}(spec.Name, worker, in, out)
		}
		in = out
	}

	sinkDone := make(chan struct{})
	go func() {
		defer close(sinkDone)
		if opts.Ordered {
			next := int64(1)
			pending := map[int64]*Tray{}
			for t := range in {
				pending[t.SeqNo] = t
				for {
					u, ok := pending[next]
					if !ok {
						break
					}
					delete(pending, next)
					next++
					if err := sink(u); err != nil {
						errOnce.Set(err)
					}
				}
			}
			// flush whatever remains when numbering had holes
			rest := make([]int64, 0, len(pending))
			for no := range pending {
				rest = append(rest, no)
			}
			sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
			for _, no := range rest {
				if err := sink(pending[no]); err != nil {
					errOnce.Set(err)
				}
			}
		} else {
			for t := range in {
				if err := sink(t); err != nil {
					errOnce.Set(err)
				}
			}
		}
	}()

	for i := range stages {
		wgs[i].Wait()
		close(chans[i])
	}
	<-sinkDone
	return errOnce.Err()
}
