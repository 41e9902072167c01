package feed

import (
	"sync"
	"time"

	"optionscalp/domain"
	"optionscalp/logger"

	"github.com/gorilla/websocket"
)

// Decoder turns one raw websocket message into a Tick and/or a ChainUpdate.
// The wire format itself is broker-specific and out of scope (spec.md
// Non-goals); callers inject the decoder for their broker.
type Decoder func(msg []byte) (*domain.Tick, *domain.ChainUpdate, error)

// WSFeed is a reference gorilla/websocket client implementing Feed's
// reconnect/backoff contract. Grounded in
// other_examples/.../predator_engine.go's PredatorWorker.Run(): a
// kill-channel-guarded dial-then-read loop, generalized from a fixed 5s
// retry to capped exponential backoff and from one hardcoded stream URL to
// an injected Decoder.
type WSFeed struct {
	url    string
	decode Decoder
	ticks  chan domain.Tick
	chains chan domain.ChainUpdate
	kill   chan struct{}
	done   chan struct{}

	mu     sync.Mutex
	onDown []func()
	onUp   []func()
}

// NewWSFeed dials url lazily on Start and reconnects with capped backoff on
// any read error.
func NewWSFeed(url string, decode Decoder) *WSFeed {
	return &WSFeed{
		url:    url,
		decode: decode,
		ticks:  make(chan domain.Tick, 1024),
		chains: make(chan domain.ChainUpdate, 256),
		kill:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (f *WSFeed) Ticks() <-chan domain.Tick           { return f.ticks }
func (f *WSFeed) Chains() <-chan domain.ChainUpdate    { return f.chains }

func (f *WSFeed) OnFeedDown(cb func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDown = append(f.onDown, cb)
}

func (f *WSFeed) OnFeedUp(cb func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onUp = append(f.onUp, cb)
}

func (f *WSFeed) fireDown() {
	f.mu.Lock()
	cbs := append([]func(){}, f.onDown...)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

func (f *WSFeed) fireUp() {
	f.mu.Lock()
	cbs := append([]func(){}, f.onUp...)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// Start launches the dial-retry-read loop in a background goroutine.
func (f *WSFeed) Start() {
	go f.run()
}

func (f *WSFeed) run() {
	defer close(f.done)
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-f.kill:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
		if err != nil {
			logger.L().Warn().Err(err).Dur("retry_in", backoff).Msg("feed: dial failed")
			f.fireDown()
			select {
			case <-f.kill:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = time.Second
		f.fireUp()
		f.readLoop(conn)
		_ = conn.Close()
		f.fireDown()
	}
}

func (f *WSFeed) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-f.kill:
			return
		default:
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		tick, chainUpd, err := f.decode(msg)
		if err != nil {
			logger.L().Debug().Err(err).Msg("feed: decode failed, dropping message")
			continue
		}
		if tick != nil {
			select {
			case f.ticks <- *tick:
			default:
				logger.L().Warn().Msg("feed: tick channel full, dropping this tick")
			}
		}
		if chainUpd != nil {
			select {
			case f.chains <- *chainUpd:
			default:
				logger.L().Warn().Msg("feed: chain channel full, dropping this chain update")
			}
		}
	}
}

// Close stops the feed and waits for the background goroutine to exit.
func (f *WSFeed) Close() error {
	close(f.kill)
	<-f.done
	return nil
}
