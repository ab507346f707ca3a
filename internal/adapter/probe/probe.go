package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/semmidev/keeper/internal/domain"
)

// NetProber checks TCP reachability or an HTTP(S) response within a fixed
// timeout.
type NetProber struct {
	timeout time.Duration
	dialer  *net.Dialer
	client  *http.Client
}

func New(timeout time.Duration) *NetProber {
	return &NetProber{
		timeout: timeout,
		dialer:  &net.Dialer{Timeout: timeout},
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (p *NetProber) Probe(ctx context.Context, m domain.UptimeMonitor) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	switch m.Protocol {
	case domain.ProtocolTCP:
		return p.probeTCP(ctx, m)
	case domain.ProtocolHTTP, domain.ProtocolHTTPS:
		return p.probeHTTP(ctx, m)
	default:
		return 0, &domain.ProbeFailure{Target: m.Host, Err: fmt.Errorf("unsupported protocol %q", m.Protocol)}
	}
}

func (p *NetProber) probeTCP(ctx context.Context, m domain.UptimeMonitor) (time.Duration, error) {
	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))

	start := time.Now()
	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, &domain.ProbeFailure{Target: addr, Err: err}
	}
	took := time.Since(start)
	conn.Close()
	return took, nil
}

func (p *NetProber) probeHTTP(ctx context.Context, m domain.UptimeMonitor) (time.Duration, error) {
	target := URL(m)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, &domain.ProbeFailure{Target: target, Err: err}
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, &domain.ProbeFailure{Target: target, Err: err}
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	took := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return 0, &domain.ProbeFailure{Target: target, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return took, nil
}

// URL is the address an http or https monitor requests.
func URL(m domain.UptimeMonitor) string {
	return fmt.Sprintf("%s://%s%s", m.Protocol, net.JoinHostPort(m.Host, strconv.Itoa(m.Port)), m.Path)
}
