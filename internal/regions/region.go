// Package regions выбирает кластер с наименьшей задержкой: получает список
// регионов от name-сервера, пингует их UDP-эхом и запоминает лучший.
package regions

import (
	"fmt"
	"math"
	"strings"
)

// PingUnknown — пинг региона, который ещё не измеряли.
const PingUnknown = math.MaxInt32

type Region struct {
	Code        string // в нижнем регистре, без кластера
	Cluster     string
	HostAndPort string
	Ping        int // мс
}

// NewRegion разбирает "EU/cluster" и адрес.
func NewRegion(code, address string) *Region {
	code = strings.ToLower(strings.TrimSpace(code))
	r := &Region{Code: code, HostAndPort: address, Ping: PingUnknown}
	if i := strings.IndexByte(code, '/'); i >= 0 {
		r.Code, r.Cluster = code[:i], code[i+1:]
	}
	return r
}

func (r *Region) String() string {
	code := r.Code
	if r.Cluster != "" {
		code += "/" + r.Cluster
	}
	if r.Ping == PingUnknown {
		return fmt.Sprintf("%s[%s]: ?ms", code, r.HostAndPort)
	}
	return fmt.Sprintf("%s[%s]: %dms", code, r.HostAndPort, r.Ping)
}
