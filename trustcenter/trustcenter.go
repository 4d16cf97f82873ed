// Package trustcenter implements the TrustCenter (C5): the process-wide
// handle combining the public-key cache (C3) and CVC cache (C4),
// directory-tree ingestion, the admission policy, and export of
// validated/rejected CVCs, per spec.md §4.4. Per spec.md §9 this models
// the source's module-global singleton as an explicit value a caller
// constructs and passes down, not a package-level global.
package trustcenter

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/magiconair/properties"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openhealthpki/cvctrust/cvc"
	"github.com/openhealthpki/cvctrust/cvccache"
	"github.com/openhealthpki/cvctrust/internal/atomicfile"
	"github.com/openhealthpki/cvctrust/pkcache"
)

// ConfigPath is the well-known properties file Initialize reads. It is a
// variable, not a constant, so tests and alternate deployments can point
// it elsewhere.
var ConfigPath = "/etc/gematik/trust-center.properties"

const (
	dirTrustAnchor   = "input/trust-anchor"
	dirTrusted       = "trusted"
	dirUntrusted     = "untrusted"
	markerStoreEE    = "storeEndEntityCvc"
	cvcFileSuffix    = "_CV-Certificate.cvc"
	cvcTextSuffix    = "_CV-Certificate.txt"
	cvcTextDERSuffix = "_CV-Certificate_DER.txt"
	pkFileSuffix     = "_ELC-PublicKey.der"
	pkTextSuffix     = "_ELC-PublicKey.txt"
	pkTextDERSuffix  = "_ELC-PublicKey_DER.txt"
)

// ErrMissingSubdir is returned by InitializeCache when root lacks one of
// the required subdirectories.
var ErrMissingSubdir = fmt.Errorf("trustcenter: missing required subdirectory")

// TrustCenter is the process-wide trust anchor and CVC validation handle.
// The zero value is ready to use (unconfigured: no root directory, empty
// caches). Readers (PublicKey, Chain, Parents) may run concurrently with
// each other and with writers (Add, InitializeCache, ClearCache). Each
// cache serializes its own reads and writes, and InitializeCache swaps in
// both rebuilt caches under one lock; Add and ClearCache update the two
// caches one after the other with no lock spanning both, so a concurrent
// reader can observe one cache updated and the other not yet.
type TrustCenter struct {
	mu sync.RWMutex

	keys *pkcache.Cache
	cvcs *cvccache.Cache

	root           string
	storeEndEntity bool

	// Logger receives structured diagnostics. A nil Logger uses the
	// global zerolog logger.
	Logger *zerolog.Logger
}

func (tc *TrustCenter) logger() *zerolog.Logger {
	if tc.Logger != nil {
		return tc.Logger
	}
	return &log.Logger
}

// ensureLocked lazily initializes the caches so the zero-value
// TrustCenter is immediately usable. Callers must hold tc.mu for writing.
func (tc *TrustCenter) ensureLocked() {
	if tc.keys == nil {
		tc.keys = &pkcache.Cache{Logger: tc.logger()}
	}
	if tc.cvcs == nil {
		tc.cvcs = &cvccache.Cache{}
	}
}

// snapshot returns the current key/CVC caches, lazily initializing them
// on first use (double-checked, so the common case only takes the read
// lock).
func (tc *TrustCenter) snapshot() (*pkcache.Cache, *cvccache.Cache) {
	tc.mu.RLock()
	keys, cvcs := tc.keys, tc.cvcs
	tc.mu.RUnlock()
	if keys != nil && cvcs != nil {
		return keys, cvcs
	}
	tc.mu.Lock()
	tc.ensureLocked()
	keys, cvcs = tc.keys, tc.cvcs
	tc.mu.Unlock()
	return keys, cvcs
}

// Initialize reads pathTrustCenter from the properties file at
// ConfigPath and calls InitializeCache, unless the TrustCenter is
// already configured with that same absolute path, per spec.md §4.4.
func (tc *TrustCenter) Initialize() error {
	props, err := properties.LoadFile(ConfigPath, properties.UTF8)
	if err != nil {
		return fmt.Errorf("trustcenter: reading config %s: %w", ConfigPath, err)
	}
	root, ok := props.Get("pathTrustCenter")
	if !ok || root == "" {
		return fmt.Errorf("trustcenter: %s has no pathTrustCenter property", ConfigPath)
	}
	root = filepath.Clean(root)

	tc.mu.RLock()
	same := tc.root == root
	tc.mu.RUnlock()
	if same {
		return nil
	}
	return tc.InitializeCache(root)
}

// InitializeCache validates root's directory layout, clears both caches,
// loads trust-anchor public keys, runs the closure validator over every
// _CV-Certificate.cvc file under root, exports admitted and rejected
// CVCs, and sets the one-shot store-end-entity flag from the marker
// file's presence, per spec.md §4.4 and §9 Open Question 2.
func (tc *TrustCenter) InitializeCache(root string) error {
	anchorDir := filepath.Join(root, dirTrustAnchor)
	trustedDir := filepath.Join(root, dirTrusted)
	untrustedDir := filepath.Join(root, dirUntrusted)
	for _, d := range []string{anchorDir, trustedDir, untrustedDir} {
		info, err := os.Stat(d)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("%w: %s", ErrMissingSubdir, d)
		}
	}

	newKeys := &pkcache.Cache{Logger: tc.logger()}
	if err := newKeys.Load(anchorDir); err != nil {
		return fmt.Errorf("trustcenter: loading trust-anchor keys: %w", err)
	}

	candidates, loadErrs := loadCandidates(root, tc.logger())

	newCvcs := &cvccache.Cache{}
	admitted, untrusted := newCvcs.Initialize(candidates, newKeys)

	for _, c := range admitted {
		if err := tc.exportInto(trustedDir, newCvcs, c); err != nil {
			tc.logger().Warn().Err(err).Str("chr", c.CHR().String()).Msg("trustcenter: failed to export admitted CVC")
		}
	}
	for _, c := range untrusted {
		if err := tc.exportInto(untrustedDir, newCvcs, c); err != nil {
			tc.logger().Warn().Err(err).Str("chr", c.CHR().String()).Msg("trustcenter: failed to export untrusted CVC")
		}
	}

	_, markerErr := os.Stat(filepath.Join(root, markerStoreEE))

	tc.mu.Lock()
	tc.keys = newKeys
	tc.cvcs = newCvcs
	tc.root = root
	tc.storeEndEntity = markerErr == nil
	tc.mu.Unlock()

	stats := newCvcs.Stats()
	logEvt := tc.logger().Info().
		Str("root", root).
		Int("trusted", stats.Trusted).
		Int("untrusted", stats.Untrusted).
		Bool("storeEndEntity", markerErr == nil)
	if loadErrs != nil {
		logEvt.Int("skipped", len(loadErrs.Errors))
	}
	logEvt.Msg("trustcenter: initializeCache complete")
	return nil
}

// loadCandidates walks root for every *_CV-Certificate.cvc file and
// parses it. A malformed or unreadable file is logged and skipped; a
// failure walking the tree itself aborts and is surfaced through the
// returned multierror (the caller still proceeds with whatever was
// collected, matching pkcache's per-file vs per-root io-error split).
func loadCandidates(root string, logger *zerolog.Logger) ([]*cvc.Cvc, *multierror.Error) {
	var candidates []*cvc.Cvc
	var errs *multierror.Error

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			walkErr := fmt.Errorf("walking %s: %w", path, err)
			errs = multierror.Append(errs, walkErr)
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), cvcFileSuffix) {
			return nil
		}
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			logger.Warn().Err(rerr).Str("path", path).Msg("trustcenter: skipping unreadable CVC file")
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", path, rerr))
			return nil
		}
		c, perr := cvc.Parse(data)
		if perr != nil {
			logger.Warn().Err(perr).Str("path", path).Msg("trustcenter: skipping malformed CVC file")
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", path, perr))
			return nil
		}
		candidates = append(candidates, c)
		return nil
	})
	return candidates, errs
}

// exportInto writes the binary CVC plus its human-readable mirror files
// under bucket, at the path cvcs renders for c (or, when no chain path
// can be resolved, directly under bucket keyed by c's own CHR).
func (tc *TrustCenter) exportInto(bucket string, cvcs *cvccache.Cache, c *cvc.Cvc) error {
	dir := bucket
	prefix := c.CHR().String()
	if path, err := cvcs.Path(c); err == nil && len(path) > 0 {
		if len(path) > 1 {
			dir = filepath.Join(append([]string{bucket}, path[:len(path)-1]...)...)
		}
		prefix = path[len(path)-1]
	}
	return ExportMirror(dir, prefix, c)
}

// ExportMirror writes the binary _CV-Certificate.cvc file under dir, named
// by prefix, together with its human-readable mirrors (_CV-Certificate.txt
// via Cvc.Report, _CV-Certificate_DER.txt as a hex dump) and the equivalent
// trio for c's own public key (_ELC-PublicKey.der/.txt/_DER.txt via
// Cvc.PublicKeyTemplateBytes/PublicKeyReport), per spec.md §6 and the
// SUPPLEMENTED FEATURES mirror-file requirement. Every file is staged then
// renamed together so a reader never observes a partially-written export.
func ExportMirror(dir, prefix string, c *cvc.Cvc) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("trustcenter: creating %s: %w", dir, err)
	}

	var batch atomicfile.Batch
	batch.Add(filepath.Join(dir, prefix+cvcFileSuffix), c.Bytes(), 0o644)
	batch.Add(filepath.Join(dir, prefix+cvcTextSuffix), []byte(c.Report().String()+"\n"), 0o644)
	batch.Add(filepath.Join(dir, prefix+cvcTextDERSuffix), []byte(hex.EncodeToString(c.Bytes())+"\n"), 0o644)

	if pkDER, err := c.PublicKeyTemplateBytes(); err == nil {
		batch.Add(filepath.Join(dir, prefix+pkFileSuffix), pkDER, 0o644)
		batch.Add(filepath.Join(dir, prefix+pkTextSuffix), []byte(c.PublicKeyReport().String()+"\n"), 0o644)
		batch.Add(filepath.Join(dir, prefix+pkTextDERSuffix), []byte(hex.EncodeToString(pkDER)+"\n"), 0o644)
	}
	return batch.Commit()
}

// Add applies the admission policy of spec.md §4.4: a CVC with critical
// findings is rejected outright; otherwise its signature status is
// evaluated (triggering §4.5) and, if VALID, its public key is inserted
// into the key cache and the CVC into the set. A newly-inserted,
// persistence-configured, and (for end-entities) store-end-entity-enabled
// CVC is also exported under trusted/. Returns whether the CVC was
// admitted (P3: independent of whether it was already present).
func (tc *TrustCenter) Add(c *cvc.Cvc) bool {
	keys, cvcs := tc.snapshot()

	if !cvccache.Admit(c, keys) {
		return false
	}

	if pk, err := c.PublicKey(); err == nil {
		_ = keys.Add(c.CHR().String(), pk)
	}
	inserted := cvcs.Add(c)

	tc.mu.RLock()
	root, storeEndEntity := tc.root, tc.storeEndEntity
	tc.mu.RUnlock()

	if inserted && root != "" {
		role, _ := c.Role()
		if role != cvc.RoleEndEntity || storeEndEntity {
			if err := tc.exportInto(filepath.Join(root, dirTrusted), cvcs, c); err != nil {
				tc.logger().Warn().Err(err).Str("chr", c.CHR().String()).Msg("trustcenter: failed to export admitted CVC")
			}
		}
	}
	return true
}

// Chain resolves the import chain from leaf up to (but not including)
// the self-signed root whose CAR equals targetRootCar, per spec.md §4.3.
func (tc *TrustCenter) Chain(leaf *cvc.Cvc, targetRootCar string) ([]*cvc.Cvc, error) {
	_, cvcs := tc.snapshot()
	return cvcs.Chain(leaf, targetRootCar)
}

// Parents returns the cached CVCs whose CHR equals child's CAR.
func (tc *TrustCenter) Parents(child *cvc.Cvc) []*cvc.Cvc {
	_, cvcs := tc.snapshot()
	return cvcs.Parents(child)
}

// PublicKey looks chr up in the key cache.
func (tc *TrustCenter) PublicKey(chr string) (cvc.PublicKey, bool) {
	keys, _ := tc.snapshot()
	return keys.PublicKey(chr)
}

// ClearCache forgets all in-memory state. It never touches disk.
func (tc *TrustCenter) ClearCache() {
	keys, cvcs := tc.snapshot()
	keys.Clear()
	cvcs.Clear()

	tc.mu.Lock()
	tc.root = ""
	tc.storeEndEntity = false
	tc.mu.Unlock()
}

// Stats reports the CVC cache's current size as Trusted (CVCs admitted by
// Add after InitializeCache included), the untrusted count from the most
// recent InitializeCache run, and their total.
func (tc *TrustCenter) Stats() cvccache.Stats {
	_, cvcs := tc.snapshot()
	return cvcs.Stats()
}
