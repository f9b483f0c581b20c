package sim

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"flowledger.org/internal/money"
)

// Counter aggregates outcomes across workers.
type Counter struct {
	mu           sync.Mutex
	successes    map[Kind]int
	rejected     int
	conflicts    int
	rateLimited  int
	serverErrors int
	transport    int
	netInflow    int64
}

// Success records a committed action and how much it changed the account sum.
func (c *Counter) Success(kind Kind, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.successes == nil {
		c.successes = make(map[Kind]int)
	}
	c.successes[kind]++
	c.netInflow += delta
}

// Failure classifies a non-2xx response by status and error code; status 0
// is a transport error.
func (c *Counter) Failure(status int, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case status == 0:
		c.transport++
	case status == http.StatusConflict && code == "conflict":
		c.conflicts++
	case status == http.StatusTooManyRequests:
		c.rateLimited++
	case status >= 500:
		c.serverErrors++
	default:
		c.rejected++
	}
}

type Summary struct {
	Successes    map[Kind]int
	Rejected     int
	Conflicts    int
	RateLimited  int
	ServerErrors int
	Transport    int
	NetInflow    int64
}

func (c *Counter) Snapshot() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Summary{
		Successes:    make(map[Kind]int, len(c.successes)),
		Rejected:     c.rejected,
		Conflicts:    c.conflicts,
		RateLimited:  c.rateLimited,
		ServerErrors: c.serverErrors,
		Transport:    c.transport,
		NetInflow:    c.netInflow,
	}
	for k, v := range c.successes {
		s.Successes[k] = v
	}
	return s
}

func (s Summary) Total() int {
	n := 0
	for _, v := range s.Successes {
		n += v
	}
	return n
}

func (s Summary) Failed() int {
	return s.Rejected + s.Conflicts + s.RateLimited + s.ServerErrors + s.Transport
}

func (s Summary) String() string {
	kinds := make([]string, 0, len(s.Successes))
	for k, v := range s.Successes {
		kinds = append(kinds, fmt.Sprintf("%s=%d", k, v))
	}
	sort.Strings(kinds)
	return fmt.Sprintf("%d ok [%s] / %d failed (rejected=%d conflicts=%d rate_limited=%d server_errors=%d transport=%d), net inflow %s",
		s.Total(), strings.Join(kinds, " "), s.Failed(),
		s.Rejected, s.Conflicts, s.RateLimited, s.ServerErrors, s.Transport, money.Format(s.NetInflow))
}
