package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
)

// fakePort blocks on Read like a real serial port with MinimumReadSize 1
// and records every write.
type fakePort struct {
	mu     sync.Mutex
	writes [][]byte

	incoming chan byte
	done     chan struct{}
	once     sync.Once

	failWrites bool
}

func newFakePort() *fakePort {
	return &fakePort{
		incoming: make(chan byte, 256),
		done:     make(chan struct{}),
	}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	select {
	case <-p.done:
		return 0, io.EOF
	case b := <-p.incoming:
		buf[0] = b
		return 1, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.failWrites {
		return 0, errors.New("device unplugged")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *fakePort) feed(data []byte) {
	for _, b := range data {
		p.incoming <- b
	}
}

func acquire(t *testing.T, ch *Channel) *Exchange {
	t.Helper()
	ex, err := ch.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	return ex
}

func TestReadExactDeliversRequestedCount(t *testing.T) {
	is := is.New(t)

	port := newFakePort()
	defer port.Close()
	ch := New(port)

	port.feed([]byte{0x05, 0x1A, 0x7B, 0x01, 0x02})

	ex := acquire(t, ch)
	defer ex.Release()

	resp, err := ex.ReadExact(3, time.Second)
	is.NoErr(err)
	is.True(bytes.Equal(resp, []byte{0x05, 0x1A, 0x7B}))

	// Remaining bytes stay queued for the next read
	resp, err = ex.ReadExact(2, time.Second)
	is.NoErr(err)
	is.True(bytes.Equal(resp, []byte{0x01, 0x02}))
}

func TestReadExactTimesOutWhenDeviceSilent(t *testing.T) {
	is := is.New(t)

	port := newFakePort()
	defer port.Close()
	ch := New(port)

	ex := acquire(t, ch)
	defer ex.Release()

	start := time.Now()
	_, err := ex.ReadExact(2, 50*time.Millisecond)
	is.True(errors.Is(err, ErrTimeout))
	is.True(time.Since(start) >= 50*time.Millisecond)
}

func TestReadExactTimesOutOnPartialResponse(t *testing.T) {
	is := is.New(t)

	port := newFakePort()
	defer port.Close()
	ch := New(port)

	port.feed([]byte{0x05})

	ex := acquire(t, ch)
	defer ex.Release()

	_, err := ex.ReadExact(2, 50*time.Millisecond)
	is.True(errors.Is(err, ErrTimeout))
}

func TestReadExactReportsDeadConnection(t *testing.T) {
	is := is.New(t)

	port := newFakePort()
	ch := New(port)

	ex := acquire(t, ch)
	defer ex.Release()

	port.Close()

	_, err := ex.ReadExact(2, time.Second)
	is.True(errors.Is(err, ErrRead))
}

func TestSendReportsWriteFailure(t *testing.T) {
	is := is.New(t)

	port := newFakePort()
	defer port.Close()
	port.failWrites = true
	ch := New(port)

	ex := acquire(t, ch)
	defer ex.Release()

	err := ex.Send([]byte("<GETCPM>>"))
	is.True(errors.Is(err, ErrWrite))
}

func TestReadUntilStopsOnIdleLine(t *testing.T) {
	is := is.New(t)

	port := newFakePort()
	defer port.Close()
	ch := New(port)

	port.feed([]byte("GMC-300Re 4.81"))

	ex := acquire(t, ch)
	defer ex.Release()

	resp, err := ex.ReadUntil(64, time.Second, 60*time.Millisecond)
	is.NoErr(err)
	is.Equal(string(resp), "GMC-300Re 4.81")
}

func TestReadUntilStopsAtMax(t *testing.T) {
	is := is.New(t)

	port := newFakePort()
	defer port.Close()
	ch := New(port)

	port.feed(bytes.Repeat([]byte{'x'}, 80))

	ex := acquire(t, ch)
	defer ex.Release()

	resp, err := ex.ReadUntil(64, time.Second, 60*time.Millisecond)
	is.NoErr(err)
	is.Equal(len(resp), 64)
}

func TestReadUntilTimesOutBeforeFirstByte(t *testing.T) {
	is := is.New(t)

	port := newFakePort()
	defer port.Close()
	ch := New(port)

	ex := acquire(t, ch)
	defer ex.Release()

	_, err := ex.ReadUntil(64, 50*time.Millisecond, 20*time.Millisecond)
	is.True(errors.Is(err, ErrTimeout))
}

func TestDrainInputDiscardsUnsolicitedBytes(t *testing.T) {
	is := is.New(t)

	port := newFakePort()
	defer port.Close()
	ch := New(port)

	// Stray power-saving marker plus leftovers from an aborted exchange
	port.feed([]byte{0xAA, 0x05, 0x1A})
	time.Sleep(100 * time.Millisecond)

	ex := acquire(t, ch)
	defer ex.Release()
	ex.DrainInput()

	port.feed([]byte{0x29})
	resp, err := ex.ReadExact(1, time.Second)
	is.NoErr(err)
	is.Equal(resp[0], byte(0x29))
}

func TestAcquireIsExclusive(t *testing.T) {
	is := is.New(t)

	port := newFakePort()
	defer port.Close()
	ch := New(port)

	first := acquire(t, ch)

	acquired := make(chan struct{})
	go func() {
		second := acquire(t, ch)
		close(acquired)
		second.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while first still held")
	case <-time.After(50 * time.Millisecond):
	}

	first.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never granted after release")
	}
	is.True(true)
}

func TestAcquireHonorsContextWhileWaiting(t *testing.T) {
	is := is.New(t)

	port := newFakePort()
	defer port.Close()
	ch := New(port)

	holder := acquire(t, ch)
	defer holder.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := ch.Acquire(ctx)
	is.True(errors.Is(err, context.DeadlineExceeded))
}

func TestReleaseIsIdempotent(t *testing.T) {
	is := is.New(t)

	port := newFakePort()
	defer port.Close()
	ch := New(port)

	ex := acquire(t, ch)
	ex.Release()
	ex.Release()

	// Slot must be free exactly once: a fresh acquire succeeds immediately
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	next, err := ch.Acquire(ctx)
	is.NoErr(err)
	next.Release()
}

// echoPort answers every framed command with a response derived from it
// and keeps a chronological log of writes and per-byte reads.
type echoPort struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []byte
	events  []portEvent
	closed  bool
}

type portEvent struct {
	kind byte // 'w' or 'r'
	data []byte
}

func newEchoPort() *echoPort {
	p := &echoPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Two response bytes per command, unique to the command body
func echoResponse(cmd []byte) []byte {
	if len(cmd) < 4 || cmd[0] != '<' {
		return nil
	}
	return []byte{cmd[1], cmd[len(cmd)-3]}
}

func (p *echoPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.pending) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.pending) == 0 {
		return 0, io.EOF
	}
	b := p.pending[0]
	p.pending = p.pending[1:]
	p.events = append(p.events, portEvent{kind: 'r', data: []byte{b}})
	buf[0] = b
	return 1, nil
}

func (p *echoPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmd := append([]byte(nil), b...)
	p.events = append(p.events, portEvent{kind: 'w', data: cmd})
	p.pending = append(p.pending, echoResponse(cmd)...)
	p.cond.Broadcast()
	return len(b), nil
}

func (p *echoPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

func (p *echoPort) snapshot() []portEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]portEvent(nil), p.events...)
}

// Hammer the channel from several goroutines and verify on the port's own
// event log that every response was consumed in full before the next
// command hit the wire.
func TestConcurrentExchangesNeverInterleave(t *testing.T) {
	is := is.New(t)

	port := newEchoPort()
	ch := New(port)

	const workers = 8
	const rounds = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			cmd := []byte(fmt.Sprintf("<CMD%d>>", w))
			want := echoResponse(cmd)
			for i := 0; i < rounds; i++ {
				ex, err := ch.Acquire(context.Background())
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				if err := ex.Send(cmd); err != nil {
					t.Errorf("send: %v", err)
					ex.Release()
					return
				}
				resp, err := ex.ReadExact(len(want), 2*time.Second)
				ex.Release()
				if err != nil {
					t.Errorf("read: %v", err)
					return
				}
				if !bytes.Equal(resp, want) {
					t.Errorf("worker %d got response %q, want %q", w, resp, want)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	port.Close()

	events := port.snapshot()
	var outstanding []byte
	commands := 0
	for _, ev := range events {
		switch ev.kind {
		case 'w':
			if len(outstanding) != 0 {
				t.Fatalf("command written with %d response bytes still unread", len(outstanding))
			}
			outstanding = echoResponse(ev.data)
			commands++
		case 'r':
			if len(outstanding) == 0 {
				t.Fatal("byte read with no response outstanding")
			}
			if ev.data[0] != outstanding[0] {
				t.Fatalf("read byte %#x, expected %#x", ev.data[0], outstanding[0])
			}
			outstanding = outstanding[1:]
		}
	}
	is.Equal(len(outstanding), 0)
	is.Equal(commands, workers*rounds)
}
