// Package discovery implements opportunistic public-key lookup against a
// DNS TXT directory. It is best effort by design: a failed or malformed
// lookup for one address never fails the surrounding operation.
package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/rs/zerolog"

	"github.com/McFlip/scytale/backend"
)

// Zone is the label under which key records are published, one TXT record
// per local-part hash: <sha224(local)>.<Zone>.<domain>.
const Zone = "_scytalekey"

// TXTResolver is the DNS port. *net.Resolver satisfies it.
type TXTResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Importer receives discovered key material. Backends satisfy it.
type Importer interface {
	ImportKeys(data []byte) (backend.ImportResult, error)
}

// Directory queries the key directory for addresses whose domain is on the
// allow list.
type Directory struct {
	resolver TXTResolver
	importer Importer
	allowed  map[string]bool
	log      zerolog.Logger
}

// New builds a Directory. Lookups only run for domains named in allowed;
// an empty allow list disables discovery entirely.
func New(resolver TXTResolver, importer Importer, allowed []string, log zerolog.Logger) *Directory {
	m := make(map[string]bool, len(allowed))
	for _, d := range allowed {
		m[strings.ToLower(d)] = true
	}
	return &Directory{resolver: resolver, importer: importer, allowed: m, log: log}
}

// LookupAddress tries to fetch and import a public key for address.
// Returns true when a key was imported. All failure modes — domain not
// allowed, no record, malformed record, import error — are silently
// skipped per address.
func (d *Directory) LookupAddress(ctx context.Context, address string) bool {
	local, domain, ok := splitAddress(address)
	if !ok || !d.allowed[domain] {
		return false
	}
	name := Label(local) + "." + Zone + "." + domain
	records, err := d.resolver.LookupTXT(ctx, name)
	if err != nil {
		d.log.Debug().Str("address", address).Err(err).Msg("key discovery lookup failed")
		return false
	}
	for _, rec := range records {
		payload, ok := parseRecord(rec)
		if !ok {
			continue
		}
		if _, err := d.importer.ImportKeys(payload); err != nil {
			d.log.Debug().Str("address", address).Err(err).Msg("discovered key import failed")
			continue
		}
		d.log.Info().Str("address", address).Msg("imported discovered public key")
		return true
	}
	return false
}

// Label is the deterministic per-local-part lookup label: hex SHA-224 of
// the lowercased local part, computed after stripping any recipient
// delimiter suffix ("user+tag" looks up as "user").
func Label(local string) string {
	local = strings.ToLower(local)
	if i := strings.Index(local, "+"); i >= 0 {
		local = local[:i]
	}
	sum := sha256.Sum224([]byte(local))
	return hex.EncodeToString(sum[:])
}

func splitAddress(address string) (local, domain string, ok bool) {
	i := strings.LastIndex(address, "@")
	if i <= 0 || i == len(address)-1 {
		return "", "", false
	}
	return address[:i], strings.ToLower(address[i+1:]), true
}

// parseRecord decodes a "v=woat1; k=<scheme>; d=<base64>" TXT record.
func parseRecord(rec string) ([]byte, bool) {
	var version, data string
	for _, field := range strings.Split(rec, ";") {
		field = strings.TrimSpace(field)
		k, v, found := strings.Cut(field, "=")
		if !found {
			continue
		}
		switch strings.ToLower(k) {
		case "v":
			version = v
		case "d":
			data = v
		}
	}
	if version != "woat1" || data == "" {
		return nil, false
	}
	payload, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, false
	}
	return payload, true
}
