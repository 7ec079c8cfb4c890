package audio

import "sync"

// PlaybackQueue is a thread-safe ring buffer sitting between the session
// event pump and the platform audio output. Interrupt discards everything
// queued, which is how user speech preempts the assistant mid-sentence.
type PlaybackQueue struct {
	mu     sync.Mutex
	buffer []byte
	size   int
	read   int
	write  int
}

// NewPlaybackQueue creates a queue holding up to size-1 bytes.
func NewPlaybackQueue(size int) *PlaybackQueue {
	if size < 2 {
		size = 2
	}
	return &PlaybackQueue{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Play enqueues PCM bytes for output. When the queue is full the newest
// audio is dropped; playback never blocks the event pump.
func (q *PlaybackQueue) Play(pcm []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := 0; i < len(pcm); i++ {
		if (q.write+1)%q.size == q.read {
			break // full
		}
		q.buffer[q.write] = pcm[i]
		q.write = (q.write + 1) % q.size
	}
}

// Read dequeues up to len(p) bytes for the output device. Returns the
// number of bytes read.
func (q *PlaybackQueue) Read(p []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	read := 0
	for i := 0; i < len(p); i++ {
		if q.read == q.write {
			break // empty
		}
		p[i] = q.buffer[q.read]
		q.read = (q.read + 1) % q.size
		read++
	}
	return read
}

// Interrupt discards all queued audio. Playback resumes with whatever is
// enqueued next.
func (q *PlaybackQueue) Interrupt() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.read = 0
	q.write = 0
}

// Len returns the number of bytes queued.
func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.write >= q.read {
		return q.write - q.read
	}
	return q.size - q.read + q.write
}
