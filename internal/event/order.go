package event

import (
	"cmp"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/faults"
)

// ComputeEventID derives a content id for a raw event: the SHA-256 of its
// normalized canonical form with event_id removed. Producers that lack a
// stable id of their own can use it.
func ComputeEventID(raw canonical.Object) (string, error) {
	obj := raw.Clone()
	obj["event_id"] = canonical.String("pending")
	ev, err := Normalize(obj)
	if err != nil {
		return "", err
	}
	body := ev.Object()
	delete(body, "event_id")
	return canonical.HashObject(body)
}

// Dedupe drops repeated events. Events sharing an id must be byte-identical
// after normalization; anything else is an EVENT_ID_CONFLICT. First
// occurrence order is preserved.
func Dedupe(events []Event) ([]Event, error) {
	seen := make(map[string]int, len(events))
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if idx, dup := seen[ev.EventID]; dup {
			if !out[idx].Equal(&ev) {
				return nil, faults.Schema(faults.CodeEventIDConflict,
					"event %s appears with differing content", ev.EventID).WithPath(ev.EventID)
			}
			continue
		}
		seen[ev.EventID] = len(out)
		out = append(out, ev)
	}
	return out, nil
}

// SortKey is the canonical replay order of an event.
type SortKey struct {
	RunID     string
	SessionID string
	TsSim     int64
	Type      Type
	EventID   string
}

// Key returns the sort key of e.
func (e *Event) Key() SortKey {
	return SortKey{
		RunID:     e.RunID,
		SessionID: e.SessionID,
		TsSim:     e.TsSim,
		Type:      e.Type,
		EventID:   e.EventID,
	}
}

// Compare orders keys by (run_id, session_id, ts_sim, event_type, event_id).
func (k SortKey) Compare(o SortKey) int {
	return cmp.Or(
		cmp.Compare(k.RunID, o.RunID),
		cmp.Compare(k.SessionID, o.SessionID),
		cmp.Compare(k.TsSim, o.TsSim),
		cmp.Compare(k.Type, o.Type),
		cmp.Compare(k.EventID, o.EventID),
	)
}

// Sort orders events in place by their sort key.
func Sort(events []Event) {
	slices.SortStableFunc(events, func(a, b Event) int {
		return a.Key().Compare(b.Key())
	})
}

// Prepare normalizes, dedupes and sorts raw events. It is the single entry
// point every replay path goes through, so ordering happens before any side
// effect.
func Prepare(raws []canonical.Object) ([]Event, error) {
	events := make([]Event, 0, len(raws))
	for i, raw := range raws {
		ev, err := Normalize(raw)
		if err != nil {
			if fe, ok := faults.As(err); ok {
				return nil, fe.WithDetail("index", strconv.Itoa(i))
			}
			return nil, err
		}
		events = append(events, ev)
	}

	events, err := Dedupe(events)
	if err != nil {
		return nil, err
	}
	Sort(events)
	return events, nil
}

// FilterRun returns the events of a single run, order preserved.
func FilterRun(events []Event, runID string) []Event {
	var out []Event
	for _, ev := range events {
		if ev.RunID == runID {
			out = append(out, ev)
		}
	}
	return out
}

// RunIDs returns the distinct run ids present, sorted.
func RunIDs(events []Event) []string {
	ids := make([]string, 0)
	for _, ev := range events {
		if !slices.Contains(ids, ev.RunID) {
			ids = append(ids, ev.RunID)
		}
	}
	slices.Sort(ids)
	return ids
}

// SelectRun filters events to one run. An empty runID is discovered when
// the input holds a single run.
func SelectRun(events []Event, runID string) (string, []Event, error) {
	runs := RunIDs(events)
	if runID == "" {
		switch len(runs) {
		case 0:
			return "", nil, faults.Schema(faults.CodeRunNotFound, "input holds no events")
		case 1:
			runID = runs[0]
		default:
			return "", nil, faults.Schema(faults.CodeAmbiguousRun,
				"input holds %d runs, choose one with a run id", len(runs)).
				WithDetail("runs", strings.Join(runs, ","))
		}
	}

	selected := FilterRun(events, runID)
	if len(selected) == 0 {
		return "", nil, faults.Schema(faults.CodeRunNotFound, "run %q not found", runID).
			WithDetail("runs", strings.Join(runs, ","))
	}
	return runID, selected, nil
}

// Objects returns the canonical objects of events, in order.
func Objects(events []Event) []canonical.Object {
	out := make([]canonical.Object, len(events))
	for i := range events {
		out[i] = events[i].Object()
	}
	return out
}
