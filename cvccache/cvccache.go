// Package cvccache implements the CVC cache (C4): a deduplicated set of
// CVCs, the closure-based trust-admission algorithm over a candidate
// input set, and reverse-tree chain resolution for the on-card
// import-chain protocol, per spec.md §4.3.
package cvccache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/openhealthpki/cvctrust/cvc"
)

// ErrNoPath is returned by Chain when no path from leaf to a self-signed
// root (optionally named by CAR) can be found in the cache.
var ErrNoPath = errors.New("cvccache: no-path")

// ErrLeafIsRoot is returned by Chain when called on a self-signed CVC.
var ErrLeafIsRoot = errors.New("cvccache: leaf-is-root")

// KeySink is the narrow write/read interface the closure algorithm needs
// from a public-key cache: it both consults and grows the key set as
// newly-verified issuers are admitted. pkcache.Cache satisfies this.
type KeySink interface {
	cvc.PublicKeyLookup
	Add(chr string, key cvc.PublicKey) error
}

// Admit is the admission decision shared by the closure algorithm here
// and TrustCenter.Add (§4.4): a CVC is admitted iff it carries no
// critical findings and its signature verifies against a key already
// present in keys. This is also property P3 (admission purity).
func Admit(c *cvc.Cvc, keys cvc.PublicKeyLookup) bool {
	if c.HasCriticalFindings() {
		return false
	}
	return c.EvaluateSignature(keys) == cvc.StatusValid
}

// Stats summarizes the outcome of the most recent closure run.
type Stats struct {
	Trusted   int
	Untrusted int
	Total     int
}

// Cache is the CVC set. The zero value is ready to use. Equality and
// membership are defined on the encoded outer TLV (cvc.Cvc.Key()), per
// spec.md §4.1/§4.3.
type Cache struct {
	mu      sync.RWMutex
	byKey   map[string]*cvc.Cvc
	order   []string // insertion order of byKey, for deterministic "first-found" chain resolution
	lastUntrusted int
}

// Add inserts c into the set if not already present (by encoded TLV).
// Reports whether the CVC was newly inserted, i.e. set-add semantics.
func (cc *Cache) Add(c *cvc.Cvc) bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.addLocked(c)
}

func (cc *Cache) addLocked(c *cvc.Cvc) bool {
	if cc.byKey == nil {
		cc.byKey = make(map[string]*cvc.Cvc)
	}
	key := c.Key()
	if _, ok := cc.byKey[key]; ok {
		return false
	}
	cc.byKey[key] = c
	cc.order = append(cc.order, key)
	return true
}

// Contains reports whether c (by encoded TLV) is already cached.
func (cc *Cache) Contains(c *cvc.Cvc) bool {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	_, ok := cc.byKey[c.Key()]
	return ok
}

// All returns every cached CVC in insertion order.
func (cc *Cache) All() []*cvc.Cvc {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	out := make([]*cvc.Cvc, 0, len(cc.order))
	for _, k := range cc.order {
		out = append(out, cc.byKey[k])
	}
	return out
}

// Len returns the number of distinct cached CVCs.
func (cc *Cache) Len() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.order)
}

// Clear discards every cached CVC and closure statistics.
func (cc *Cache) Clear() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.byKey = nil
	cc.order = nil
	cc.lastUntrusted = 0
}

// Stats reports the cache's current size together with the residual
// untrusted count from the most recent Initialize call (supplemented
// feature: spec.md §2 C4 responsibility mentions no reporting surface,
// but the trust center's structured logging needs concrete numbers).
func (cc *Cache) Stats() Stats {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return Stats{
		Trusted:   len(cc.order),
		Untrusted: cc.lastUntrusted,
		Total:     len(cc.order) + cc.lastUntrusted,
	}
}

// Initialize runs the closure-based validation algorithm of spec.md
// §4.3 over candidates: repeatedly admit whichever candidates verify
// against keys (growing keys with each admitted CVC's own public key),
// until a pass admits nothing more. Admitted CVCs are added to the
// cache; the residual, never-admitted candidates are returned as
// untrusted. Termination is guaranteed since each pass either shrinks
// the input set or the loop stops.
func (cc *Cache) Initialize(candidates []*cvc.Cvc, keys KeySink) (admitted, untrusted []*cvc.Cvc) {
	inputSet := append([]*cvc.Cvc{}, candidates...)

	for {
		var transfer []*cvc.Cvc
		for _, c := range inputSet {
			if Admit(c, keys) {
				transfer = append(transfer, c)
			}
		}
		if len(transfer) == 0 {
			break
		}

		transferKeys := make(map[*cvc.Cvc]bool, len(transfer))
		for _, c := range transfer {
			transferKeys[c] = true
			pk, err := c.PublicKey()
			if err == nil {
				_ = keys.Add(c.CHR().String(), pk)
			}
			cc.Add(c)
		}
		admitted = append(admitted, transfer...)

		remaining := inputSet[:0:0]
		for _, c := range inputSet {
			if !transferKeys[c] {
				remaining = append(remaining, c)
			}
		}
		inputSet = remaining
		if len(inputSet) == 0 {
			break
		}
	}

	untrusted = inputSet
	cc.mu.Lock()
	cc.lastUntrusted = len(untrusted)
	cc.mu.Unlock()
	return admitted, untrusted
}

// Parents returns the set of cached CVCs whose CHR equals child's CAR.
func (cc *Cache) Parents(child *cvc.Cvc) []*cvc.Cvc {
	car := child.CAR().String()
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	var out []*cvc.Cvc
	for _, k := range cc.order {
		c := cc.byKey[k]
		if c.CHR().String() == car {
			out = append(out, c)
		}
	}
	return out
}

// Chain resolves the import chain from leaf up to (but not including)
// the self-signed root whose CAR equals targetRootCar, or any
// self-signed root if targetRootCar is empty, per spec.md §4.3.
//
// When several cached CVCs share a CHR (a root plus one or more link
// certificates), all are considered at each step and the first
// breadth-first path that reaches the target root wins; this
// intentionally does not impose determinism beyond the cache's own
// insertion order (spec.md §9 Open Question 1).
func (cc *Cache) Chain(leaf *cvc.Cvc, targetRootCar string) ([]*cvc.Cvc, error) {
	if leaf.IsSelfSigned() {
		return nil, ErrLeafIsRoot
	}

	cc.mu.RLock()
	entries := make([]*cvc.Cvc, 0, len(cc.order))
	for _, k := range cc.order {
		entries = append(entries, cc.byKey[k])
	}
	cc.mu.RUnlock()

	type node struct {
		cvc    *cvc.Cvc
		parent int
	}
	nodes := []node{{cvc: leaf, parent: -1}}
	seen := map[*cvc.Cvc]bool{leaf: true}

	isTargetRoot := func(c *cvc.Cvc) bool {
		if !c.IsSelfSigned() {
			return false
		}
		return targetRootCar == "" || c.CAR().String() == targetRootCar
	}

	breakIdx := -1
	for ptr := 0; breakIdx == -1; ptr++ {
		if ptr >= len(nodes) {
			return nil, fmt.Errorf("%w: no path from %s to root", ErrNoPath, leaf.CHR().String())
		}
		car := nodes[ptr].cvc.CAR().String()
		for _, cand := range entries {
			if seen[cand] {
				continue
			}
			if cand.CHR().String() != car {
				continue
			}
			seen[cand] = true
			nodes = append(nodes, node{cvc: cand, parent: ptr})
			if isTargetRoot(cand) {
				breakIdx = len(nodes) - 1
				break
			}
		}
	}

	idx := nodes[breakIdx].parent
	var result []*cvc.Cvc
	for idx != -1 {
		result = append([]*cvc.Cvc{nodes[idx].cvc}, result...)
		idx = nodes[idx].parent
	}
	return result, nil
}

// Path renders the human-readable export path of c: the CAR of the
// ultimate root, then the CHR of each intermediate CA from the root
// downward, then c's own CHR. A self-signed root renders as its own
// single-element CHR.
func (cc *Cache) Path(c *cvc.Cvc) ([]string, error) {
	if c.IsSelfSigned() {
		return []string{c.CHR().String()}, nil
	}
	chain, err := cc.Chain(c, "")
	if err != nil {
		return nil, err
	}
	path := make([]string, 0, len(chain)+1)
	path = append(path, chain[len(chain)-1].CAR().String())
	for i := len(chain) - 1; i >= 0; i-- {
		path = append(path, chain[i].CHR().String())
	}
	return path, nil
}
