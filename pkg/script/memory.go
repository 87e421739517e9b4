package script

import (
	"context"
	"errors"
	"runtime"
	"runtime/metrics"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// ErrMemoryLimit is the cancel cause of a script whose heap outgrew
// Engine.MemoryLimit.
var ErrMemoryLimit = errors.New("memory limit exceeded")

const (
	memoryPollInterval = 2 * time.Millisecond
	heapObjectsMetric  = "/memory/classes/heap/objects:bytes"
)

// heapInUse returns the bytes held by heap objects, including garbage that
// has not been swept yet.
func heapInUse() uint64 {
	s := []metrics.Sample{{Name: heapObjectsMetric}}
	metrics.Read(s)
	if s[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s[0].Value.Uint64()
}

// watchMemory cancels ctx with ErrMemoryLimit once the heap is still above
// limit after a forced collection. It returns when ctx is done.
func watchMemory(ctx context.Context, cancel context.CancelCauseFunc, limit uint64) {
	t := time.NewTicker(memoryPollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if heapInUse() <= limit {
			continue
		}
		runtime.GC()
		if heapInUse() > limit {
			cancel(ErrMemoryLimit)
			return
		}
	}
}

// boundRep replaces string.rep so a single call cannot allocate more than
// limit bytes before the watchdog gets a chance to look.
func boundRep(L *lua.LState, limit int64) {
	strlib, ok := L.GetGlobal(lua.StringLibName).(*lua.LTable)
	if !ok {
		return
	}
	strlib.RawSetString("rep", L.NewFunction(func(L *lua.LState) int {
		s := L.CheckString(1)
		n := L.CheckInt(2)
		if n <= 0 || s == "" {
			L.Push(lua.LString(""))
			return 1
		}
		if int64(len(s)) > limit/int64(n) {
			L.RaiseError("string.rep result exceeds the memory limit of %d bytes", limit)
		}
		L.Push(lua.LString(strings.Repeat(s, n)))
		return 1
	}))
}
