package provisioning

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxHost = 254

var ErrPoolExhausted = errors.New("address pool exhausted")

// AddressPool hands out client addresses from a /24 range sequentially.
// Allocation serializes the scan of issued addresses against concurrent
// provisioning for the same pool, and remembers addresses promised to
// outstanding tokens so two tokens can never carry the same address even
// before either certificate is signed.
type AddressPool struct {
	mu        sync.Mutex
	prefix    string // e.g. "192.168.100."
	bits      int
	startHost int
	reserved  map[int]time.Time // host octet -> reservation expiry
}

// NewAddressPool parses a /24 CIDR like "192.168.100.0/24". startHost is the
// first host number handed out when the pool is empty.
func NewAddressPool(cidr string, startHost int) (*AddressPool, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid address pool %q: %w", cidr, err)
	}
	if !prefix.Addr().Is4() || prefix.Bits() != 24 {
		return nil, fmt.Errorf("address pool %q: only IPv4 /24 pools are supported", cidr)
	}
	if startHost < 1 || startHost > maxHost {
		return nil, fmt.Errorf("address pool start host %d out of range", startHost)
	}

	octets := prefix.Addr().As4()
	return &AddressPool{
		prefix:    fmt.Sprintf("%d.%d.%d.", octets[0], octets[1], octets[2]),
		bits:      prefix.Bits(),
		startHost: startHost,
		reserved:  make(map[int]time.Time),
	}, nil
}

// Prefix returns the dotted prefix issued addresses share, e.g. "192.168.100.".
func (p *AddressPool) Prefix() string { return p.prefix }

// Allocate picks the next free host number given the addresses already
// issued: the highest used host plus one, or the start offset for an empty
// pool. The result is reserved until ttl passes, so the address stays taken
// while its token is outstanding.
func (p *AddressPool) Allocate(issued []string, ttl time.Duration) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for host, expiry := range p.reserved {
		if now.After(expiry) {
			delete(p.reserved, host)
		}
	}

	highest := p.startHost - 1
	for _, addr := range issued {
		if host, ok := p.hostNumber(addr); ok && host > highest {
			highest = host
		}
	}
	for host := range p.reserved {
		if host > highest {
			highest = host
		}
	}

	next := highest + 1
	if next > maxHost {
		return "", fmt.Errorf("%w: %s0/%d", ErrPoolExhausted, p.prefix, p.bits)
	}

	p.reserved[next] = now.Add(ttl)
	return fmt.Sprintf("%s%d/%d", p.prefix, next, p.bits), nil
}

// Release frees a reservation, used when token issuance fails after an
// address was picked.
func (p *AddressPool) Release(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if host, ok := p.hostNumber(addr); ok {
		delete(p.reserved, host)
	}
}

// hostNumber extracts the last octet from an address like
// "192.168.100.13/24" when it belongs to this pool.
func (p *AddressPool) hostNumber(addr string) (int, bool) {
	if !strings.HasPrefix(addr, p.prefix) {
		return 0, false
	}
	rest := strings.TrimPrefix(addr, p.prefix)
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	host, err := strconv.Atoi(rest)
	if err != nil || host < 1 || host > maxHost {
		return 0, false
	}
	return host, true
}
