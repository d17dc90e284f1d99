package certs

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync"
)

type leafEntry struct {
	chain []byte
	key   *rsa.PrivateKey
}

// Cache is a readers-writer, in-memory mapping of hostname to minted leaf
// certificate. Entries live for the process lifetime; there is no expiry
// eviction, matching §3.5 ("leaf certs are ephemeral" per process run).
type Cache struct {
	ca *CA
	mu sync.RWMutex
	m  map[string]leafEntry
}

// NewCache builds a Cache backed by ca.
func NewCache(ca *CA) *Cache {
	return &Cache{ca: ca, m: make(map[string]leafEntry)}
}

// Get returns the cached or freshly minted (chain, key) for hostname.
//
// Concurrency discipline: a read lock is taken first; on a hit the entry
// is returned immediately. On a miss the read lock is dropped, the leaf is
// minted with no lock held at all, and only the insert takes a write
// lock. Two goroutines racing on the same hostname miss may both mint —
// that's accepted: minting is pure, and whichever insert lands last wins
// with material of equal quality.
func (c *Cache) Get(hostname string) ([]byte, *rsa.PrivateKey, error) {
	c.mu.RLock()
	entry, ok := c.m[hostname]
	c.mu.RUnlock()
	if ok {
		return entry.chain, entry.key, nil
	}

	cert, key, err := c.ca.mintLeaf(hostname)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	c.m[hostname] = leafEntry{chain: cert.Raw, key: key}
	c.mu.Unlock()

	return cert.Raw, key, nil
}

// GetCertificate adapts Get to the tls.Config.GetCertificate callback
// signature, so a Cache can be wired directly into a server-side
// tls.Config for the MITM accept.
func (c *Cache) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	hostname := hello.ServerName
	if hostname == "" {
		return nil, fmt.Errorf("certs: no SNI hostname in ClientHello")
	}
	chainDER, key, err := c.Get(hostname)
	if err != nil {
		return nil, err
	}
	return &tls.Certificate{
		Certificate: [][]byte{chainDER},
		PrivateKey:  key,
		Leaf:        mustParse(chainDER),
	}, nil
}

func mustParse(der []byte) *x509.Certificate {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil
	}
	return cert
}
