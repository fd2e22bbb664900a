package fanout

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// natsPool lazily opens and caches one connection per broker URL. The
// nats client reconnects and buffers on its own; a pooled connection is
// only replaced once it is permanently closed.
type natsPool struct {
	mu    sync.Mutex
	conns map[string]*nats.Conn
}

func newNATSPool() *natsPool {
	return &natsPool{conns: make(map[string]*nats.Conn)}
}

func (p *natsPool) get(serverURL string) (*nats.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if nc, ok := p.conns[serverURL]; ok && !nc.IsClosed() {
		return nc, nil
	}

	nc, err := nats.Connect(serverURL,
		nats.Name("formbridge-fanout"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, err
	}

	p.conns[serverURL] = nc
	return nc, nil
}

func (p *natsPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, nc := range p.conns {
		nc.Close()
	}
	p.conns = make(map[string]*nats.Conn)
}

// splitNATSTarget splits nats://host:port/subject into the broker URL and
// the subject.
func splitNATSTarget(target string) (serverURL, subject string, err error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", "", fmt.Errorf("parse nats target: %w", err)
	}

	subject = strings.TrimPrefix(u.Path, "/")
	if subject == "" {
		return "", "", fmt.Errorf("nats target %q has no subject path", target)
	}

	return u.Scheme + "://" + u.Host, subject, nil
}

// deliverNATS publishes the payload bytes to the target's subject. Publish
// does not take a context, so the context is checked first and the flush,
// which does, confirms the broker accepted the message.
func (d *Dispatcher) deliverNATS(ctx context.Context, target string, payload []byte) Delivery {
	serverURL, subject, err := splitNATSTarget(target)
	if err != nil {
		return Delivery{Error: err.Error()}
	}

	nc, err := d.conns.get(serverURL)
	if err != nil {
		return Delivery{Error: fmt.Sprintf("connect to %s: %v", serverURL, err)}
	}

	if err := ctx.Err(); err != nil {
		return Delivery{Error: fmt.Sprintf("context cancelled before publish: %v", err)}
	}
	if err := nc.Publish(subject, payload); err != nil {
		return Delivery{Error: fmt.Sprintf("publish to %s: %v", subject, err)}
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		return Delivery{Error: fmt.Sprintf("flush publish: %v", err)}
	}

	return Delivery{OK: true}
}
