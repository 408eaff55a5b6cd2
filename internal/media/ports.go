package media

import (
	"fmt"
	"net"
	"sync"
)

// allocAttempts bounds the bind-attempt loop before falling back.
const allocAttempts = 100

// PortPool hands out even UDP ports from a configured range for per-call RTP
// sockets. Allocation tries an actual bind: a port that cannot be bound
// (taken by another process) is skipped. When the range is exhausted or
// binding keeps failing, the pool falls back to a fixed port so a call can
// still be attempted rather than rejected outright.
type PortPool struct {
	mu       sync.Mutex
	min      int
	max      int
	fallback int
	next     int
	used     map[int]bool
}

// NewPortPool creates a pool over [min, max] with the given fallback port.
// Bounds are normalized to even values since RTP convention reserves odd
// ports for RTCP.
func NewPortPool(min, max, fallback int) *PortPool {
	if min%2 != 0 {
		min++
	}
	return &PortPool{
		min:      min,
		max:      max,
		fallback: fallback,
		next:     min,
		used:     make(map[int]bool),
	}
}

// Allocate binds a UDP socket on the next free even port in the range. The
// cursor wraps around; after allocAttempts failed binds the fallback port is
// tried once.
func (p *PortPool) Allocate() (*net.UDPConn, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < allocAttempts; i++ {
		port := p.next
		p.next += 2
		if p.next > p.max {
			p.next = p.min
		}
		if p.used[port] {
			continue
		}
		conn, err := bindUDP(port)
		if err != nil {
			continue
		}
		p.used[port] = true
		return conn, port, nil
	}

	conn, err := bindUDP(p.fallback)
	if err != nil {
		return nil, 0, fmt.Errorf("rtp port range exhausted and fallback %d unavailable: %w", p.fallback, err)
	}
	return conn, p.fallback, nil
}

// Release closes the socket and returns its port to the pool.
func (p *PortPool) Release(conn *net.UDPConn, port int) {
	if conn != nil {
		conn.Close()
	}
	p.mu.Lock()
	delete(p.used, port)
	p.mu.Unlock()
}

func bindUDP(port int) (*net.UDPConn, error) {
	return net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
}
