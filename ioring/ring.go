// Package ioring binds a bounded submission/completion queue to a
// storage.Pool. It is the node codec and MPT core's only way to touch disk:
// callers submit reads and writes and get back a Future, then drain
// completions with Poll, which is also the point at which a fiber waiting on
// a Future is woken.
package ioring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/monadexec/execore/storage"
	"github.com/monadexec/execore/xlog"
)

// ErrRingClosed is returned by any operation on a closed Ring.
var ErrRingClosed = errors.New("ioring: ring closed")

// Config bounds the ring's in-flight operations.
type Config struct {
	// Depth is the maximum number of reads+writes in flight at once.
	Depth int64
	// Poll, when true, makes Poll non-blocking: it drains whatever
	// completions are ready and returns immediately instead of waiting
	// for at least one.
	Poll bool
}

// DefaultConfig returns a Config with a submission depth of 128.
func DefaultConfig() Config {
	return Config{Depth: 128}
}

// Future resolves to the result of a single submitted read or write. It is
// safe to Wait from multiple goroutines.
type Future struct {
	mu   sync.Mutex
	done chan struct{}
	buf  []byte
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Wait blocks until the operation completes or ctx is done, whichever comes
// first. Completion happens when the ring's Poll drains the corresponding
// completion, so a Future submitted but never polled never resolves.
func (f *Future) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.buf, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ready reports whether the operation has completed.
func (f *Future) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *Future) resolve(buf []byte, err error) {
	f.mu.Lock()
	f.buf, f.err = buf, err
	f.mu.Unlock()
	close(f.done)
}

type completion struct {
	future *Future
	buf    []byte
	err    error
}

// Ring is a submission/completion queue over a storage.Pool, with a bounded
// number of operations in flight at once.
type Ring struct {
	config Config
	pool   *storage.Pool
	sem    *semaphore.Weighted
	log    *xlog.Logger

	completions chan completion

	mu     sync.Mutex
	closed bool
}

// New creates a Ring over pool with the given Config.
func New(pool *storage.Pool, config Config, log *xlog.Logger) *Ring {
	if config.Depth <= 0 {
		config.Depth = DefaultConfig().Depth
	}
	if log == nil {
		log = xlog.Default().Module("ioring")
	}
	return &Ring{
		config:      config,
		pool:        pool,
		sem:         semaphore.NewWeighted(config.Depth),
		log:         log,
		completions: make(chan completion, config.Depth),
	}
}

// SubmitRead enqueues a read of the page range described by off. The
// returned Future resolves once Poll drains its completion.
func (r *Ring) SubmitRead(ctx context.Context, off storage.ChunkOffset) (*Future, error) {
	if r.isClosed() {
		return nil, ErrRingClosed
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("ioring: submit read: %w", err)
	}

	f := newFuture()
	go func() {
		defer r.sem.Release(1)
		buf, err := r.pool.ReadAt(off)
		r.completions <- completion{future: f, buf: buf, err: err}
	}()
	return f, nil
}

// SubmitWrite enqueues an append of data to the pool's tail. The returned
// Future resolves to the ChunkOffset the data landed at, encoded as a
// 14-byte buffer (chunk id, byte offset, page count) for symmetry with
// SubmitRead's []byte result; callers that need the ChunkOffset directly use
// DecodeOffset.
func (r *Ring) SubmitWrite(ctx context.Context, data []byte) (*Future, error) {
	if r.isClosed() {
		return nil, ErrRingClosed
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("ioring: submit write: %w", err)
	}

	f := newFuture()
	go func() {
		defer r.sem.Release(1)
		off, err := r.pool.Append(data)
		if err != nil {
			r.completions <- completion{future: f, err: err}
			return
		}
		r.completions <- completion{future: f, buf: EncodeOffset(off)}
	}()
	return f, nil
}

// Poll drains completions for up to deadline, resolving each Future as its
// completion arrives, and returns the number drained. With config.Poll set,
// Poll never blocks: it drains whatever is already queued and returns.
func (r *Ring) Poll(deadline time.Duration) int {
	drained := 0
	if r.config.Poll {
		for {
			select {
			case c := <-r.completions:
				c.future.resolve(c.buf, c.err)
				drained++
			default:
				return drained
			}
		}
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	for {
		select {
		case c := <-r.completions:
			c.future.resolve(c.buf, c.err)
			drained++
		case <-timer.C:
			return drained
		}
	}
}

func (r *Ring) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close marks the ring closed. In-flight operations already submitted are
// allowed to complete; new submissions are rejected.
func (r *Ring) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// EncodeOffset packs a storage.ChunkOffset into a fixed 14-byte buffer:
// 4 bytes chunk id, 8 bytes byte offset, 2 bytes page count, all big-endian.
func EncodeOffset(off storage.ChunkOffset) []byte {
	buf := make([]byte, 14)
	putUint32(buf[0:4], uint32(off.ChunkID))
	putUint64(buf[4:12], off.ByteOffset)
	putUint16(buf[12:14], off.PageCount)
	return buf
}

// DecodeOffset is EncodeOffset's inverse.
func DecodeOffset(buf []byte) storage.ChunkOffset {
	return storage.ChunkOffset{
		ChunkID:    storage.ChunkID(getUint32(buf[0:4])),
		ByteOffset: getUint64(buf[4:12]),
		PageCount:  getUint16(buf[12:14]),
	}
}

func putUint32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
}
func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}
func putUint16(b []byte, v uint16) {
	b[0], b[1] = byte(v>>8), byte(v)
}
func getUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
func getUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}
