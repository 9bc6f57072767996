package farmproof

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Anchorer computes and durably records the witnessed Merkle root for one
// day at a time.
type Anchorer struct {
	store       Store
	client      *WitnessClient
	witnessURLs []string
	quorum      int
	timeout     time.Duration
	log         *slog.Logger
}

// NewAnchorer wires an anchorer to its store and witness set. timeout
// bounds each individual witness call; log may be nil.
func NewAnchorer(store Store, client *WitnessClient, witnessURLs []string, quorum int, timeout time.Duration, log *slog.Logger) *Anchorer {
	if client == nil {
		client = NewWitnessClient(nil)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Anchorer{
		store:       store,
		client:      client,
		witnessURLs: witnessURLs,
		quorum:      quorum,
		timeout:     timeout,
		log:         log,
	}
}

// AnchorDay anchors one day, normally yesterday. It is idempotent: if an
// anchor already exists, or the day has no readings yet, nothing happens
// and created is false. Witness solicitation is best-effort; partial
// witness failure degrades QuorumMet but never blocks anchor creation.
func (a *Anchorer) AnchorDay(ctx context.Context, dayKey string) (anchor Anchor, created bool, err error) {
	if existing, ok, err := a.store.AnchorFor(dayKey); err != nil {
		return Anchor{}, false, err
	} else if ok {
		return existing, false, nil
	}

	leaves, err := a.store.LeafHashes(dayKey)
	if err != nil {
		return Anchor{}, false, err
	}
	if len(leaves) == 0 {
		return Anchor{}, false, nil
	}

	root := BuildRoot(leaves)
	sigs := a.solicit(ctx, dayKey, root)

	anchor = Anchor{
		DayKey:     dayKey,
		MerkleRoot: root,
		Signatures: sigs,
		QuorumMet:  len(sigs) >= a.quorum,
		CreatedAt:  time.Now().UTC(),
	}
	created, err = a.store.CreateAnchor(anchor)
	if err != nil {
		return Anchor{}, false, err
	}
	if !created {
		// Lost the insert-if-absent race to a concurrent tick; the day
		// is anchored either way.
		existing, _, err := a.store.AnchorFor(dayKey)
		if err != nil {
			return Anchor{}, false, err
		}
		return existing, false, nil
	}
	a.log.Info("anchored day",
		"dayKey", dayKey,
		"root", root,
		"signatures", len(sigs),
		"quorumMet", anchor.QuorumMet)
	return anchor, true, nil
}

// solicit asks every witness concurrently with an independent timeout and
// waits for all of them before returning. A failing, unreachable, or
// misbehaving witness is logged and excluded from the signature set.
func (a *Anchorer) solicit(ctx context.Context, dayKey, root string) []WitnessSignature {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sigs []WitnessSignature
	)
	for _, url := range a.witnessURLs {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			sig, err := a.client.Sign(cctx, url, dayKey, root)
			if err != nil {
				a.log.Warn("witness unavailable", "url", url, "dayKey", dayKey, "error", err)
				return
			}
			if !sig.Verify(dayKey, root) {
				a.log.Warn("witness signature failed verification", "url", url, "dayKey", dayKey)
				return
			}
			mu.Lock()
			sigs = append(sigs, sig)
			mu.Unlock()
		}(url)
	}
	wg.Wait()
	return sigs
}

// Yesterday returns the dayKey the periodic anchor job targets.
func Yesterday(now time.Time) string {
	return DayKey(now.UTC().AddDate(0, 0, -1))
}
