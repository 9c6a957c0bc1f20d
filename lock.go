package avdecc

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// goroutineID extracts the current goroutine's runtime id from its
// stack header. Go offers no public identity for goroutines; the id is
// only compared for equality and never interpreted.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// "goroutine 123 [running]:"
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}

// reentrantLock is the controller-wide exclusion callers use to span
// several engine calls. It is recursive so a handler running while the
// lock is held by its own goroutine does not deadlock.
type reentrantLock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner uint64
	depth int
}

func newReentrantLock() *reentrantLock {
	l := &reentrantLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *reentrantLock) lock() {
	gid := goroutineID()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == gid && l.depth > 0 {
		l.depth++
		return
	}
	for l.depth > 0 {
		l.cond.Wait()
	}
	l.owner = gid
	l.depth = 1
}

func (l *reentrantLock) unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.depth == 0 {
		return
	}
	l.depth--
	if l.depth == 0 {
		l.owner = 0
		l.cond.Signal()
	}
}
