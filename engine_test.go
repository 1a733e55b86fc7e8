package xchan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func testEngine(t testing.TB, cfg Config) *Engine {
	t.Helper()
	engine, err := NewEngineBuilder().WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close(context.Background()) })
	return engine
}

// The canonical batched-send / polled-receive round trip: a batch of 32
// payloads of 32 bytes drains as exactly 32 successful polls with strictly
// increasing ids, then the channel is empty again.
func TestEngineBatchRoundTrip(t *testing.T) {
	engine := testEngine(t, Config{MaxMessageSize: 64})
	ctx := context.Background()

	producer, err := engine.CreateProducer(202, 65536)
	if err != nil {
		t.Fatalf("create producer: %v", err)
	}
	defer producer.Release()

	consumer, err := engine.CreateConsumer(202)
	if err != nil {
		t.Fatalf("create consumer: %v", err)
	}
	defer consumer.Release()

	batch := make([][]byte, 32)
	for i := range batch {
		batch[i] = make([]byte, 32)
		batch[i][0] = byte(i)
	}
	if err := producer.SendBatch(batch...); err != nil {
		t.Fatalf("send batch: %v", err)
	}

	buf := make([]byte, 64)
	var prev uint64
	for i := 0; i < 32; i++ {
		n, env, err := consumer.Receive(ctx, 0, buf)
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		if n != 32 {
			t.Errorf("receive %d: payload length %d, want 32", i, n)
		}
		if buf[0] != byte(i) {
			t.Errorf("receive %d: out of order payload %d", i, buf[0])
		}
		if env.ChannelID != 202 {
			t.Errorf("receive %d: channel id %d", i, env.ChannelID)
		}
		if i > 0 && env.MessageID != prev+1 {
			t.Errorf("receive %d: message id %d after %d", i, env.MessageID, prev)
		}
		prev = env.MessageID
	}

	if _, _, err := consumer.Receive(ctx, 0, buf); !errors.Is(err, ErrTimeout) {
		t.Fatalf("33rd receive: got %v, want ErrTimeout", err)
	}
}

func TestEngineConsumerRequiresExistingChannel(t *testing.T) {
	engine := testEngine(t, Config{})

	if _, err := engine.CreateConsumer(999); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("got %v, want ErrChannelNotFound", err)
	}

	// Once a producer defines the channel, the consumer retry succeeds.
	p, err := engine.CreateProducer(999, 16)
	if err != nil {
		t.Fatalf("create producer: %v", err)
	}
	defer p.Release()

	c, err := engine.CreateConsumer(999)
	if err != nil {
		t.Fatalf("create consumer after producer: %v", err)
	}
	c.Release()
}

func TestEngineCapacityMismatch(t *testing.T) {
	engine := testEngine(t, Config{})

	p, err := engine.CreateProducer(5, 64)
	if err != nil {
		t.Fatalf("create producer: %v", err)
	}
	defer p.Release()

	if _, err := engine.CreateProducer(5, 128); !errors.Is(err, ErrCapacityMismatch) {
		t.Fatalf("got %v, want ErrCapacityMismatch", err)
	}

	// Same capacity is not a mismatch.
	p2, err := engine.CreateProducer(5, 64)
	if err != nil {
		t.Fatalf("same-capacity producer: %v", err)
	}
	p2.Release()
}

func TestEngineBufferTooSmallIsLossy(t *testing.T) {
	engine := testEngine(t, Config{MaxMessageSize: 64})
	ctx := context.Background()

	producer, err := engine.CreateProducer(3, 16)
	if err != nil {
		t.Fatalf("create producer: %v", err)
	}
	defer producer.Release()
	consumer, err := engine.CreateConsumer(3)
	if err != nil {
		t.Fatalf("create consumer: %v", err)
	}
	defer consumer.Release()

	if err := producer.Send(make([]byte, 32)); err != nil {
		t.Fatalf("send: %v", err)
	}

	small := make([]byte, 16)
	_, env, err := consumer.Receive(ctx, 0, small)
	if !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("got %v, want ErrBufferTooSmall", err)
	}
	if env.PayloadLen != 32 {
		t.Errorf("dropped message envelope payload_len %d", env.PayloadLen)
	}

	// The message is consumed, not requeued.
	if _, _, err := consumer.Receive(ctx, 0, make([]byte, 64)); !errors.Is(err, ErrTimeout) {
		t.Fatalf("subsequent receive: got %v, want ErrTimeout", err)
	}
}

func TestEnginePayloadTooLarge(t *testing.T) {
	engine := testEngine(t, Config{MaxMessageSize: 16})

	producer, err := engine.CreateProducer(4, 8)
	if err != nil {
		t.Fatalf("create producer: %v", err)
	}
	defer producer.Release()

	if err := producer.Send(make([]byte, 17)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("got %v, want ErrPayloadTooLarge", err)
	}
}

func TestEngineReceiveTimeoutBounds(t *testing.T) {
	engine := testEngine(t, Config{})
	ctx := context.Background()

	p, err := engine.CreateProducer(6, 8)
	if err != nil {
		t.Fatalf("create producer: %v", err)
	}
	defer p.Release()
	c, err := engine.CreateConsumer(6)
	if err != nil {
		t.Fatalf("create consumer: %v", err)
	}
	defer c.Release()

	const timeout = 50 * time.Millisecond
	start := time.Now()
	_, _, err = c.Receive(ctx, timeout, make([]byte, 8))
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if elapsed < timeout {
		t.Errorf("returned after %s, before the %s bound", elapsed, timeout)
	}
	if elapsed > timeout+500*time.Millisecond {
		t.Errorf("overshoot too large: %s", elapsed)
	}
}

func TestEngineReceiveHonorsCallerContext(t *testing.T) {
	engine := testEngine(t, Config{})

	p, err := engine.CreateProducer(11, 8)
	if err != nil {
		t.Fatalf("create producer: %v", err)
	}
	defer p.Release()
	c, err := engine.CreateConsumer(11)
	if err != nil {
		t.Fatalf("create consumer: %v", err)
	}
	defer c.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, _, err = c.Receive(ctx, Forever, make([]byte, 8))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestEngineMultiProducerExactlyOnce(t *testing.T) {
	const (
		producers   = 4
		perProducer = 500
	)
	engine := testEngine(t, Config{MaxMessageSize: 16})
	ctx := context.Background()

	var g errgroup.Group
	for pi := 0; pi < producers; pi++ {
		pi := pi
		g.Go(func() error {
			p, err := engine.CreateProducer(1, producers*perProducer, WithMessageType(uint32(pi)))
			if err != nil {
				return err
			}
			defer p.Release()
			payload := []byte{byte(pi)}
			for i := 0; i < perProducer; i++ {
				for {
					err := p.Send(payload)
					if err == nil {
						break
					}
					if !errors.Is(err, ErrFull) {
						return err
					}
				}
			}
			return nil
		})
	}

	// The consumer races the producers; Forever waits are released by each
	// arriving message.
	seenIDs := make(map[uint64]bool, producers*perProducer)
	perType := make(map[uint32]int, producers)
	var consumeErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c, err := engine.CreateConsumer(1)
		if err != nil {
			// The first producer may not have created the channel yet.
			for errors.Is(err, ErrChannelNotFound) {
				time.Sleep(time.Millisecond)
				c, err = engine.CreateConsumer(1)
			}
			if err != nil {
				consumeErr = err
				return
			}
		}
		defer c.Release()

		buf := make([]byte, 16)
		for n := 0; n < producers*perProducer; n++ {
			_, env, err := c.Receive(ctx, time.Second, buf)
			if err != nil {
				consumeErr = err
				return
			}
			if seenIDs[env.MessageID] {
				consumeErr = errors.New("duplicate message id")
				return
			}
			seenIDs[env.MessageID] = true
			perType[env.MessageType]++
		}
	}()

	if err := g.Wait(); err != nil {
		t.Fatalf("producers: %v", err)
	}
	wg.Wait()
	if consumeErr != nil {
		t.Fatalf("consumer: %v", consumeErr)
	}

	if len(seenIDs) != producers*perProducer {
		t.Fatalf("received %d distinct messages, want %d", len(seenIDs), producers*perProducer)
	}
	for pi := 0; pi < producers; pi++ {
		if perType[uint32(pi)] != perProducer {
			t.Errorf("producer %d: %d messages delivered, want %d", pi, perType[uint32(pi)], perProducer)
		}
	}
}

func TestEngineReleasedHandlesFailClosed(t *testing.T) {
	engine := testEngine(t, Config{})
	ctx := context.Background()

	p, err := engine.CreateProducer(8, 8)
	if err != nil {
		t.Fatalf("create producer: %v", err)
	}
	c, err := engine.CreateConsumer(8)
	if err != nil {
		t.Fatalf("create consumer: %v", err)
	}

	if err := p.Send([]byte("x")); err != nil {
		t.Fatalf("send: %v", err)
	}

	p.Release()
	p.Release() // idempotent
	if err := p.Send([]byte("y")); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after release: got %v, want ErrClosed", err)
	}

	// Releasing the producer never destroys in-flight messages.
	if _, _, err := c.Receive(ctx, 0, make([]byte, 8)); err != nil {
		t.Fatalf("receive after producer release: %v", err)
	}

	c.Release()
	if _, _, err := c.Receive(ctx, 0, make([]byte, 8)); !errors.Is(err, ErrClosed) {
		t.Fatalf("receive after release: got %v, want ErrClosed", err)
	}
}

func TestEngineCloseReleasesBlockedReceiver(t *testing.T) {
	engine, err := NewEngineBuilder().WithConfig(Config{}).Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	p, err := engine.CreateProducer(9, 8)
	if err != nil {
		t.Fatalf("create producer: %v", err)
	}
	defer p.Release()
	c, err := engine.CreateConsumer(9)
	if err != nil {
		t.Fatalf("create consumer: %v", err)
	}
	defer c.Release()

	done := make(chan error, 1)
	go func() {
		_, _, err := c.Receive(context.Background(), Forever, make([]byte, 8))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := engine.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := engine.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("got %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("engine close did not release blocked receiver")
	}

	if _, err := engine.CreateProducer(10, 8); !errors.Is(err, ErrClosed) {
		t.Fatalf("create after close: got %v, want ErrClosed", err)
	}
}

func TestEngineMetricsAndHealth(t *testing.T) {
	engine := testEngine(t, Config{MaxMessageSize: 16})
	ctx := context.Background()

	p, err := engine.CreateProducer(12, 2)
	if err != nil {
		t.Fatalf("create producer: %v", err)
	}
	defer p.Release()
	c, err := engine.CreateConsumer(12)
	if err != nil {
		t.Fatalf("create consumer: %v", err)
	}
	defer c.Release()

	if err := p.SendBatch([]byte("a"), []byte("b")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := p.Send([]byte("c")); !errors.Is(err, ErrFull) {
		t.Fatalf("got %v, want ErrFull", err)
	}

	buf := make([]byte, 16)
	if _, _, err := c.Receive(ctx, 0, buf); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if _, _, err := c.Receive(ctx, 0, buf); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if _, _, err := c.Receive(ctx, 0, buf); !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}

	m := engine.GetMetrics()
	if m.Sent != 2 || m.Received != 2 {
		t.Errorf("sent %d received %d, want 2/2", m.Sent, m.Received)
	}
	if m.FullRejections != 1 {
		t.Errorf("full rejections %d, want 1", m.FullRejections)
	}
	if m.Timeouts != 1 {
		t.Errorf("timeouts %d, want 1", m.Timeouts)
	}
	if m.Channels != 1 {
		t.Errorf("channels %d, want 1", m.Channels)
	}

	h := engine.Health(ctx)
	if h.Status != "healthy" {
		t.Errorf("health %q, want healthy", h.Status)
	}

	if n, err := engine.ChannelLength(12); err != nil || n != 0 {
		t.Errorf("channel length %d (%v), want 0", n, err)
	}
}

func TestEngineObserverSeesSendAndReceive(t *testing.T) {
	var mu sync.Mutex
	got := make(map[EventType]int)
	obs := ObserverFunc(func(e Event) {
		mu.Lock()
		got[e.Type]++
		mu.Unlock()
	})

	engine, err := NewEngineBuilder().WithConfig(Config{}).WithObserver(obs).Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	defer func() { _ = engine.Close(context.Background()) }()

	p, err := engine.CreateProducer(13, 8)
	if err != nil {
		t.Fatalf("create producer: %v", err)
	}
	defer p.Release()
	c, err := engine.CreateConsumer(13)
	if err != nil {
		t.Fatalf("create consumer: %v", err)
	}
	defer c.Release()

	if err := p.Send([]byte("x")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, _, err := c.Receive(context.Background(), time.Second, make([]byte, 8)); err != nil {
		t.Fatalf("receive: %v", err)
	}

	// Observer dispatch is async; poll briefly.
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		ok := got[ChannelCreated] == 1 && got[SendDone] == 1 && got[ReceiveDone] == 1
		mu.Unlock()
		if ok {
			break
		}
		if time.Now().After(deadline) {
			mu.Lock()
			snapshot := make(map[EventType]int, len(got))
			for k, v := range got {
				snapshot[k] = v
			}
			mu.Unlock()
			t.Fatalf("events not observed: %v", snapshot)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func BenchmarkSendBatchReceive(b *testing.B) {
	engine := testEngine(b, Config{MaxMessageSize: 32})
	ctx := context.Background()

	p, err := engine.CreateProducer(100, 1<<16)
	if err != nil {
		b.Fatalf("create producer: %v", err)
	}
	defer p.Release()
	c, err := engine.CreateConsumer(100)
	if err != nil {
		b.Fatalf("create consumer: %v", err)
	}
	defer c.Release()

	const batchSize = 32
	batch := make([][]byte, batchSize)
	for i := range batch {
		batch[i] = make([]byte, 32)
	}
	buf := make([]byte, 32)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := p.SendBatch(batch...); err != nil {
			b.Fatalf("send: %v", err)
		}
		for j := 0; j < batchSize; j++ {
			if _, _, err := c.Receive(ctx, 0, buf); err != nil {
				b.Fatalf("receive: %v", err)
			}
		}
	}
}
