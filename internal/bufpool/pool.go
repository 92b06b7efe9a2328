package bufpool

import "sync"

// Size classes are tuned for SPICE payloads: a mini-header payload rarely
// exceeds a few hundred bytes (INPUTS/PLAYBACK control records), agent
// clipboard fragments are capped at VD_AGENT_MAX_DATA_SIZE (2048), and
// DISPLAY draw-copy bitmaps can be much larger.
var sizeClasses = []int{16, 256, 2048, 65536}

// bucket is one size class's sync.Pool, fixed at its own buffer length.
type bucket struct {
	size int
	pool *sync.Pool
}

// Pool hands out fixed-capacity byte slices from a small set of size
// classes, so the multiplexor and channel framers can recycle mini-header
// payloads and agent/display buffers instead of allocating per message.
type Pool struct {
	buckets []bucket
}

var defaultPool = New()

// Get acquires a buffer from the package-level default pool.
func Get(size int) []byte {
	return defaultPool.Get(size)
}

// Put releases a buffer back to the package-level default pool.
func Put(buf []byte) {
	defaultPool.Put(buf)
}

// New builds a Pool with one bucket per entry in sizeClasses.
func New() *Pool {
	buckets := make([]bucket, len(sizeClasses))
	for i, sz := range sizeClasses {
		classSize := sz
		buckets[i] = bucket{
			size: classSize,
			pool: &sync.Pool{
				New: func() any {
					return make([]byte, classSize)
				},
			},
		}
	}
	return &Pool{buckets: buckets}
}

// Get returns a slice of exactly size bytes, backed by the smallest bucket
// that can hold it. A request larger than every bucket bypasses pooling
// entirely and allocates fresh.
func (p *Pool) Get(size int) []byte {
	if p == nil || size <= 0 {
		return nil
	}

	for i := range p.buckets {
		b := &p.buckets[i]
		if size <= b.size {
			buf := b.pool.Get().([]byte)
			return buf[:size]
		}
	}

	return make([]byte, size)
}

// Put returns buf to its matching bucket if its capacity equals one of the
// size classes exactly; anything else is left for the garbage collector.
// The buffer is cleared first so a reused allocation never carries a
// previous caller's payload forward.
func (p *Pool) Put(buf []byte) {
	if p == nil || buf == nil {
		return
	}

	n := cap(buf)
	for i := range p.buckets {
		b := &p.buckets[i]
		if n == b.size {
			full := buf[:b.size]
			clear(full)
			b.pool.Put(full)
			return
		}
	}
}
