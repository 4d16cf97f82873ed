// Package pkcache implements the public-key cache (C3): a thread-safe
// mapping from Cardholder Reference (CHR) to elliptic-curve public key,
// bulk-loadable from a trust-anchor directory tree, per spec.md §4.2.
package pkcache

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openhealthpki/cvctrust/cvc"
	"github.com/openhealthpki/cvctrust/internal/bertlv"
)

// publicKeySuffix names the files load walks for: the CHR is the
// file-name prefix with this suffix stripped (spec.md §6).
const publicKeySuffix = "_ELC-PublicKey.der"

// ErrConflict is returned by Add when chr is already present under a
// different key.
var ErrConflict = fmt.Errorf("pkcache: conflict")

// ErrMissing is returned by Get when chr is absent.
var ErrMissing = fmt.Errorf("pkcache: missing")

// Cache is the public-key cache. The zero value is ready to use.
type Cache struct {
	mu   sync.RWMutex
	keys map[string]cvc.PublicKey

	// Logger receives structured per-file/per-root load diagnostics. A
	// nil Logger uses the global zerolog logger.
	Logger *zerolog.Logger
}

func (c *Cache) logger() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return &log.Logger
}

// PublicKey implements cvc.PublicKeyLookup.
func (c *Cache) PublicKey(chr string) (cvc.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pk, ok := c.keys[chr]
	return pk, ok
}

// Get returns the public key for chr, or ErrMissing.
func (c *Cache) Get(chr string) (cvc.PublicKey, error) {
	pk, ok := c.PublicKey(chr)
	if !ok {
		return cvc.PublicKey{}, fmt.Errorf("%w: %s", ErrMissing, chr)
	}
	return pk, nil
}

// Add inserts key under chr. If chr is already present with an equal key
// this is a no-op; if present with a different key it fails with
// ErrConflict. The read-modify-write is internally serialized so
// concurrent Add calls for the same CHR either collapse cleanly or
// report the conflict, per spec.md §4.2 "Concurrency".
func (c *Cache) Add(chr string, key cvc.PublicKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys == nil {
		c.keys = make(map[string]cvc.PublicKey)
	}
	existing, ok := c.keys[chr]
	if ok {
		if existing.Equal(key) {
			return nil
		}
		return fmt.Errorf("%w: %s already has a different public key", ErrConflict, chr)
	}
	c.keys[chr] = key
	return nil
}

// Len returns the number of distinct CHRs currently cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}

// Clear discards every cached key.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = nil
}

// Load clears the cache, then walks root recursively, parsing every
// regular file whose name ends in "_ELC-PublicKey.der" as a BER-TLV
// encoded public-key template (tag 7f49) and adding it under the CHR
// derived from the file name. A parse or add error for one file is
// logged and that file is skipped; an error walking the tree itself
// aborts loading, per spec.md §4.2 and §7's io-error taxonomy.
func (c *Cache) Load(root string) error {
	c.Clear()

	var loadErrs *multierror.Error
	count := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("pkcache: walking %s: %w", path, err)
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), publicKeySuffix) {
			return nil
		}

		chr := strings.TrimSuffix(d.Name(), publicKeySuffix)
		data, ferr := os.ReadFile(path)
		if ferr != nil {
			c.logger().Warn().Err(ferr).Str("path", path).Msg("pkcache: skipping unreadable public-key file")
			loadErrs = multierror.Append(loadErrs, fmt.Errorf("%s: %w", path, ferr))
			return nil
		}

		pk, perr := DecodePublicKeyTemplate(data)
		if perr != nil {
			c.logger().Warn().Err(perr).Str("path", path).Msg("pkcache: skipping malformed public-key file")
			loadErrs = multierror.Append(loadErrs, fmt.Errorf("%s: %w", path, perr))
			return nil
		}

		if aerr := c.Add(chr, pk); aerr != nil {
			c.logger().Warn().Err(aerr).Str("path", path).Str("chr", chr).Msg("pkcache: skipping conflicting public key")
			loadErrs = multierror.Append(loadErrs, fmt.Errorf("%s: %w", path, aerr))
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("pkcache: aborting load of %s: %w", root, err)
	}

	c.logger().Info().Str("root", root).Int("loaded", count).Msg("pkcache: load complete")
	if loadErrs != nil {
		loadErrs.ErrorFormat = func(es []error) string {
			return fmt.Sprintf("pkcache: %d file(s) skipped during load", len(es))
		}
	}
	return nil
}

// DecodePublicKeyTemplate parses a standalone public-key template file
// (tag 7f49, the same shape a CVC embeds) into a public key. It reuses
// the cvc package's own parsing so both call sites stay in lock-step.
func DecodePublicKeyTemplate(data []byte) (cvc.PublicKey, error) {
	obj, rest, err := bertlv.Decode(data)
	if err != nil {
		return cvc.PublicKey{}, fmt.Errorf("pkcache: invalid-tlv: %w", err)
	}
	if len(rest) != 0 {
		return cvc.PublicKey{}, fmt.Errorf("pkcache: invalid-tlv: %d trailing bytes", len(rest))
	}
	return cvc.DecodeStandalonePublicKey(obj.Tag, obj.Value)
}
