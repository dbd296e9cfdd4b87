// Package session — diff.go
//
// Differential scanning between two frozen snapshots. Matching is by
// start_id, never PID: a PID present in both snapshots under different
// start_ids is one Resolved plus one New, exactly what PID reuse
// means.
//
// Change classification: Changed when the classification differs (if
// always_flag_classification_change) or |score drift| crosses the
// threshold; worsened/improved only on Changed entries. Deltas sort
// New < Changed < Unchanged < Resolved, and the summary counts always
// sum to len(deltas).

package session

import (
	"sort"
	"time"
)

// DeltaKind classifies one process's change between snapshots.
type DeltaKind uint8

const (
	DeltaNew DeltaKind = iota
	DeltaChanged
	DeltaUnchanged
	DeltaResolved
)

// String returns the kind label.
func (k DeltaKind) String() string {
	switch k {
	case DeltaNew:
		return "new"
	case DeltaChanged:
		return "changed"
	case DeltaResolved:
		return "resolved"
	default:
		return "unchanged"
	}
}

// InferenceSummary is the compact per-side inference view in a delta.
type InferenceSummary struct {
	Classification     string  `json:"classification"`
	Score              int     `json:"score"`
	RecommendedAction  string  `json:"recommended_action"`
	PosteriorAbandoned float64 `json:"posterior_abandoned"`
	PosteriorZombie    float64 `json:"posterior_zombie"`
}

func summaryOf(inf *PersistedInference) *InferenceSummary {
	if inf == nil {
		return nil
	}
	return &InferenceSummary{
		Classification:     inf.Classification,
		Score:              inf.Score,
		RecommendedAction:  inf.RecommendedAction,
		PosteriorAbandoned: inf.PosteriorAbandoned,
		PosteriorZombie:    inf.PosteriorZombie,
	}
}

// ProcessDelta is one row of the diff.
type ProcessDelta struct {
	PID     uint32    `json:"pid"`
	StartID string    `json:"start_id"`
	Kind    DeltaKind `json:"-"`

	OldInference *InferenceSummary `json:"old_inference,omitempty"`
	NewInference *InferenceSummary `json:"new_inference,omitempty"`

	ScoreDrift            int  `json:"score_drift,omitempty"`
	ClassificationChanged bool `json:"classification_changed"`
	Worsened              bool `json:"worsened"`
	Improved              bool `json:"improved"`

	KindLabel string `json:"kind"`
}

// DiffSummary aggregates the delta counts. Invariant:
// New + Resolved + Changed + Unchanged == len(deltas).
type DiffSummary struct {
	TotalOld       int `json:"total_old"`
	TotalNew       int `json:"total_new"`
	NewCount       int `json:"new_count"`
	ResolvedCount  int `json:"resolved_count"`
	ChangedCount   int `json:"changed_count"`
	UnchangedCount int `json:"unchanged_count"`
	WorsenedCount  int `json:"worsened_count"`
	ImprovedCount  int `json:"improved_count"`
}

// Diff is the complete comparison of two snapshots.
type Diff struct {
	OldSessionID string         `json:"old_session_id"`
	NewSessionID string         `json:"new_session_id"`
	GeneratedAt  time.Time      `json:"generated_at"`
	Deltas       []ProcessDelta `json:"deltas"`
	Summary      DiffSummary    `json:"summary"`
}

// DiffConfig holds the change-classification thresholds.
type DiffConfig struct {
	// ScoreDriftThreshold is the minimum |drift| to call a process
	// Changed when the classification is stable.
	ScoreDriftThreshold int
	// AlwaysFlagClassificationChange treats any classification change
	// as Changed regardless of score drift.
	AlwaysFlagClassificationChange bool
}

// DefaultDiffConfig returns a drift threshold of 5 with classification
// changes always flagged.
func DefaultDiffConfig() DiffConfig {
	return DiffConfig{ScoreDriftThreshold: 5, AlwaysFlagClassificationChange: true}
}

// ComputeDiff compares two frozen snapshots.
func ComputeDiff(old, new *Snapshot, cfg DiffConfig) Diff {
	oldProcs := indexProcs(old.Processes)
	newProcs := indexProcs(new.Processes)
	oldInfs := indexInfs(old.Inferences)
	newInfs := indexInfs(new.Inferences)

	var deltas []ProcessDelta

	for key, np := range newProcs {
		if _, existed := oldProcs[key]; existed {
			deltas = append(deltas, classifyChange(np, oldInfs[key], newInfs[key], cfg))
			continue
		}
		deltas = append(deltas, ProcessDelta{
			PID: np.PID, StartID: np.StartID, Kind: DeltaNew,
			NewInference: summaryOf(newInfs[key]),
			KindLabel:    DeltaNew.String(),
		})
	}
	for key, op := range oldProcs {
		if _, still := newProcs[key]; !still {
			deltas = append(deltas, ProcessDelta{
				PID: op.PID, StartID: op.StartID, Kind: DeltaResolved,
				OldInference: summaryOf(oldInfs[key]),
				KindLabel:    DeltaResolved.String(),
			})
		}
	}

	sort.SliceStable(deltas, func(i, j int) bool {
		if deltas[i].Kind != deltas[j].Kind {
			return deltas[i].Kind < deltas[j].Kind
		}
		return deltas[i].PID < deltas[j].PID
	})

	summary := DiffSummary{TotalOld: len(old.Processes), TotalNew: len(new.Processes)}
	for _, d := range deltas {
		switch d.Kind {
		case DeltaNew:
			summary.NewCount++
		case DeltaResolved:
			summary.ResolvedCount++
		case DeltaChanged:
			summary.ChangedCount++
		default:
			summary.UnchangedCount++
		}
		if d.Worsened {
			summary.WorsenedCount++
		}
		if d.Improved {
			summary.ImprovedCount++
		}
	}

	return Diff{
		OldSessionID: old.SessionID,
		NewSessionID: new.SessionID,
		GeneratedAt:  time.Now().UTC(),
		Deltas:       deltas,
		Summary:      summary,
	}
}

func classifyChange(p *PersistedProcess, oldInf, newInf *PersistedInference, cfg DiffConfig) ProcessDelta {
	d := ProcessDelta{
		PID: p.PID, StartID: p.StartID,
		OldInference: summaryOf(oldInf),
		NewInference: summaryOf(newInf),
	}

	if oldInf != nil && newInf != nil {
		d.ScoreDrift = newInf.Score - oldInf.Score
		d.ClassificationChanged = oldInf.Classification != newInf.Classification
	}

	changed := false
	if cfg.AlwaysFlagClassificationChange && d.ClassificationChanged {
		changed = true
	} else if abs(d.ScoreDrift) >= cfg.ScoreDriftThreshold && (oldInf != nil && newInf != nil) {
		changed = true
	}

	if changed {
		d.Kind = DeltaChanged
		d.Worsened = d.ScoreDrift > 0
		d.Improved = d.ScoreDrift < 0
	} else {
		d.Kind = DeltaUnchanged
	}
	d.KindLabel = d.Kind.String()
	return d
}

func indexProcs(procs []PersistedProcess) map[string]*PersistedProcess {
	out := make(map[string]*PersistedProcess, len(procs))
	for i := range procs {
		out[procs[i].StartID] = &procs[i]
	}
	return out
}

func indexInfs(infs []PersistedInference) map[string]*PersistedInference {
	out := make(map[string]*PersistedInference, len(infs))
	for i := range infs {
		out[infs[i].StartID] = &infs[i]
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
