package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes used for engine records. They make ids self-describing in logs and
// in the movement log's related-entity column.
const (
	PrefixSale          = "VTA"
	PrefixAbono         = "ABO"
	PrefixPurchaseOrder = "OC"
	PrefixPayment       = "PAGO"
	PrefixTransfer      = "TRF"
	PrefixMovement      = "MOV"
	PrefixEntry         = "ENT"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewWithPrefix returns "<PREFIX>-<ulid>". Ids sharing a prefix sort by creation time.
func NewWithPrefix(prefix string) string {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		return New()
	}
	return prefix + "-" + New()
}

// Time extracts the creation timestamp embedded in a (optionally prefixed) id.
func Time(id string) (time.Time, bool) {
	if i := strings.LastIndexByte(id, '-'); i >= 0 {
		id = id[i+1:]
	}
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()).UTC(), true
}
