package farmproof

// Verifier re-derives integrity verdicts purely from current storage plus
// the anchor; no cached verdict is trusted across runs.
type Verifier struct {
	store Store
}

func NewVerifier(store Store) *Verifier {
	return &Verifier{store: store}
}

// VerifyDayGlobal checks the whole day against its anchor. A root mismatch
// flags the anchor tampered in place and returns StatusGlobalTamper. A day
// without an anchor, or without any remaining leaves, is not yet evaluable.
func (v *Verifier) VerifyDayGlobal(dayKey string) (Verdict, error) {
	anchor, ok, err := v.store.AnchorFor(dayKey)
	if err != nil {
		return Verdict{}, err
	}
	if !ok {
		return Verdict{Status: StatusPendingAnchor}, nil
	}

	leaves, err := v.store.LeafHashes(dayKey)
	if err != nil {
		return Verdict{}, err
	}
	if len(leaves) == 0 {
		// Already purged or not yet ingested; nothing to compare.
		return Verdict{Status: StatusPendingAnchor}, nil
	}

	computed := BuildRoot(leaves)
	if computed != anchor.MerkleRoot {
		if err := v.store.MarkAnchorTampered(dayKey, TamperInfo{
			Reason:       "root_mismatch",
			ComputedRoot: computed,
		}); err != nil {
			return Verdict{}, err
		}
		return Verdict{
			Status: StatusGlobalTamper,
			Details: &AuditDetails{
				Reason:       "root_mismatch",
				ComputedRoot: computed,
				AnchorRoot:   anchor.MerkleRoot,
			},
		}, nil
	}
	return Verdict{Status: StatusClean}, nil
}

// VerifyFarmerDay checks one farmer's readings for one day. The global
// check runs first: a compromised or unanchored day cannot certify any
// farmer's subset as clean, so those verdicts short-circuit. Otherwise
// each of the farmer's readings is re-hashed from its stored payload and
// compared to the leaf digest recorded at ingest; the first mismatch is
// the one reported.
func (v *Verifier) VerifyFarmerDay(farmerID, dayKey string) (Verdict, error) {
	global, err := v.VerifyDayGlobal(dayKey)
	if err != nil {
		return Verdict{}, err
	}
	if global.Status == StatusGlobalTamper {
		return global, nil
	}
	if global.Status == StatusPendingAnchor {
		// Two causes fold into a pending global verdict: no anchor yet,
		// and an anchored day already purged to empty. Only the first
		// defers the farmer verdict; a purged-empty day verifies as
		// no-data so the audit trail stops churning.
		if _, ok, err := v.store.AnchorFor(dayKey); err != nil {
			return Verdict{}, err
		} else if ok {
			return Verdict{Status: StatusCleanNoData}, nil
		}
		return global, nil
	}

	readings, err := v.store.FarmerReadings(farmerID, dayKey)
	if err != nil {
		return Verdict{}, err
	}
	if len(readings) == 0 {
		return Verdict{Status: StatusCleanNoData}, nil
	}

	for _, r := range readings {
		leaf, err := LeafHashRaw(r.Payload)
		if err != nil || leaf != r.LeafHash {
			// An undecodable payload can only mean the stored bytes no
			// longer match what was hashed at ingest.
			return Verdict{
				Status: StatusKeptTampered,
				Details: &AuditDetails{
					Reason:    "payload_leaf_mismatch",
					ReadingID: r.ID,
				},
			}, nil
		}
	}
	return Verdict{Status: StatusClean}, nil
}

// CheckPayload is the query-boundary consistency check: recompute the
// payload's leaf digest, test membership among the day's current leaves,
// recompute the root, and compare to the anchor.
type PayloadCheck struct {
	Consistent   bool   `json:"consistent"`
	Reason       string `json:"reason,omitempty"`
	DayKey       string `json:"dayKey,omitempty"`
	QuorumMet    bool   `json:"quorumMet,omitempty"`
	ValidSigs    int    `json:"validSigs,omitempty"`
	Needed       int    `json:"needed,omitempty"`
	AnchorRoot   string `json:"anchorRoot,omitempty"`
	ComputedRoot string `json:"computedRoot,omitempty"`
}

func (v *Verifier) CheckPayload(payload []byte, dayKey string) (PayloadCheck, error) {
	anchor, ok, err := v.store.AnchorFor(dayKey)
	if err != nil {
		return PayloadCheck{}, err
	}
	if !ok {
		return PayloadCheck{Consistent: false, Reason: "no_anchor_for_day", DayKey: dayKey}, nil
	}
	leaves, err := v.store.LeafHashes(dayKey)
	if err != nil {
		return PayloadCheck{}, err
	}
	if len(leaves) == 0 {
		return PayloadCheck{Consistent: false, Reason: "no_leaves_for_day", DayKey: dayKey}, nil
	}

	leaf, err := LeafHashRaw(payload)
	if err != nil {
		return PayloadCheck{Consistent: false, Reason: "payload_invalid", DayKey: dayKey}, nil
	}
	member := false
	for _, l := range leaves {
		if l == leaf {
			member = true
			break
		}
	}
	computed := BuildRoot(leaves)
	return PayloadCheck{
		Consistent:   member && computed == anchor.MerkleRoot,
		DayKey:       dayKey,
		QuorumMet:    anchor.QuorumMet,
		ValidSigs:    len(anchor.Signatures),
		AnchorRoot:   anchor.MerkleRoot,
		ComputedRoot: computed,
	}, nil
}
