package admission

import (
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// TrustList is the admission-control document loaded once at startup.
type TrustList struct {
	TrustedIPs                []string `yaml:"trustedIPs" json:"trustedIPs"`
	MaxConnectionsPerIP       int      `yaml:"maxConnectionsPerIP" json:"maxConnectionsPerIP"`
	MaxConnectionsWhitelisted int      `yaml:"maxConnectionsWhitelisted" json:"maxConnectionsWhitelisted"`
}

// DefaultTrustList is the conservative fallback used when the trust-list file
// is missing or malformed: only loopback is trusted and quotas stay small.
func DefaultTrustList() TrustList {
	return TrustList{
		TrustedIPs:                []string{"127.0.0.1", "::1"},
		MaxConnectionsPerIP:       3,
		MaxConnectionsWhitelisted: 10,
	}
}

// LoadTrustList reads the YAML document at path. Any load or parse failure is
// logged and recovered with DefaultTrustList; a broken config must not keep
// the server from starting.
func LoadTrustList(path string) TrustList {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("trust list unreadable, using built-in default", "path", path, "error", err)
		return DefaultTrustList()
	}

	var tl TrustList
	if err := yaml.Unmarshal(data, &tl); err != nil {
		slog.Warn("trust list malformed, using built-in default", "path", path, "error", err)
		return DefaultTrustList()
	}
	if tl.MaxConnectionsPerIP <= 0 || tl.MaxConnectionsWhitelisted <= 0 {
		slog.Warn("trust list has non-positive quota, using built-in default", "path", path)
		return DefaultTrustList()
	}
	return tl
}

func (tl TrustList) trusted(addr string) bool {
	for _, ip := range tl.TrustedIPs {
		if ip == addr {
			return true
		}
	}
	return false
}

// QuotaFor resolves the effective quota for one source address.
func (tl TrustList) QuotaFor(addr string) int {
	if tl.trusted(addr) {
		return tl.MaxConnectionsWhitelisted
	}
	return tl.MaxConnectionsPerIP
}
