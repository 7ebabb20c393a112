// Package crdt provides the conflict-free text document backing a
// collaboration session. The relay treats updates, state vectors and
// diffs as opaque byte slices; only this package interprets them.
//
// Updates from a given site must be applied in the order that site
// produced them. Application is idempotent and commutative across
// sites, so any interleaving of per-site ordered streams converges.
package crdt

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
)

const base = uint64(1) << 32

// maxStep bounds the digit step for freshly allocated positions so that
// sequential appends leave room for later inserts.
const maxStep = 255

type ident struct {
	Digit uint64 `json:"d"`
	Site  string `json:"s"`
	Clock uint64 `json:"c"`
}

type position []ident

func compareIdent(a, b ident) int {
	if a.Digit != b.Digit {
		if a.Digit < b.Digit {
			return -1
		}
		return 1
	}
	if a.Site != b.Site {
		return strings.Compare(a.Site, b.Site)
	}
	if a.Clock != b.Clock {
		if a.Clock < b.Clock {
			return -1
		}
		return 1
	}
	return 0
}

func comparePos(a, b position) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareIdent(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func posKey(p position) string {
	var sb strings.Builder
	for _, id := range p {
		fmt.Fprintf(&sb, "%d.%s.%d:", id.Digit, id.Site, id.Clock)
	}
	return sb.String()
}

const (
	opInsert = "ins"
	opDelete = "del"
)

type op struct {
	Kind string   `json:"k"`
	Site string   `json:"s"`
	Seq  uint64   `json:"q"`
	Pos  position `json:"p"`
	Ch   string   `json:"v,omitempty"`
}

type update struct {
	Ops []op `json:"ops"`
}

type atom struct {
	pos position
	ch  string
}

// Doc is a replicated text document. One instance is owned by each
// session record; its hub is the sole mutation path while connections
// are live.
type Doc struct {
	mu     sync.Mutex
	atoms  []atom
	vector map[string]uint64
	log    map[string][]op
	dead   map[string]struct{}
}

func New() *Doc {
	return &Doc{
		vector: make(map[string]uint64),
		log:    make(map[string][]op),
		dead:   make(map[string]struct{}),
	}
}

func (d *Doc) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.atoms)
}

func (d *Doc) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var sb strings.Builder
	for _, a := range d.atoms {
		sb.WriteString(a.ch)
	}
	return sb.String()
}

// InsertAt inserts text at the given visible index on behalf of site and
// returns the encoded update, already applied locally.
func (d *Doc) InsertAt(site string, index int, text string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index > len(d.atoms) {
		return nil, fmt.Errorf("crdt: insert index %d out of range", index)
	}
	var left, right position
	if index > 0 {
		left = d.atoms[index-1].pos
	}
	if index < len(d.atoms) {
		right = d.atoms[index].pos
	}
	var ops []op
	for _, r := range text {
		seq := d.vector[site] + 1
		pos := posBetween(left, right, site, seq)
		o := op{Kind: opInsert, Site: site, Seq: seq, Pos: pos, Ch: string(r)}
		d.applyOp(o)
		ops = append(ops, o)
		left = pos
	}
	return json.Marshal(update{Ops: ops})
}

// DeleteAt removes n characters starting at the given visible index on
// behalf of site and returns the encoded update, already applied locally.
func (d *Doc) DeleteAt(site string, index, n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || n < 0 || index+n > len(d.atoms) {
		return nil, fmt.Errorf("crdt: delete range [%d,%d) out of range", index, index+n)
	}
	targets := make([]position, 0, n)
	for _, a := range d.atoms[index : index+n] {
		targets = append(targets, a.pos)
	}
	var ops []op
	for _, pos := range targets {
		seq := d.vector[site] + 1
		o := op{Kind: opDelete, Site: site, Seq: seq, Pos: pos}
		d.applyOp(o)
		ops = append(ops, o)
	}
	return json.Marshal(update{Ops: ops})
}

// ApplyUpdate merges a remote update into the document. Re-applying an
// update a site has already contributed is a no-op.
func (d *Doc) ApplyUpdate(data []byte) error {
	var u update
	if err := json.Unmarshal(data, &u); err != nil {
		return fmt.Errorf("crdt: decode update: %w", err)
	}
	for _, o := range u.Ops {
		if o.Site == "" || o.Seq == 0 || len(o.Pos) == 0 {
			return fmt.Errorf("crdt: malformed op")
		}
		if o.Kind != opInsert && o.Kind != opDelete {
			return fmt.Errorf("crdt: unknown op kind %q", o.Kind)
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range u.Ops {
		d.applyOp(o)
	}
	return nil
}

// StateVector encodes the per-site sequence numbers merged so far.
func (d *Doc) StateVector() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, _ := json.Marshal(d.vector)
	return data
}

// DiffUpdate encodes every op the remote state vector has not seen. A
// nil or empty vector yields the full document history.
func (d *Doc) DiffUpdate(remoteSV []byte) ([]byte, error) {
	remote := make(map[string]uint64)
	if len(remoteSV) > 0 {
		if err := json.Unmarshal(remoteSV, &remote); err != nil {
			return nil, fmt.Errorf("crdt: decode state vector: %w", err)
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	sites := make([]string, 0, len(d.log))
	for site := range d.log {
		sites = append(sites, site)
	}
	sort.Strings(sites)
	var u update
	for _, site := range sites {
		seen := remote[site]
		for _, o := range d.log[site] {
			if o.Seq > seen {
				u.Ops = append(u.Ops, o)
			}
		}
	}
	return json.Marshal(u)
}

func (d *Doc) applyOp(o op) {
	if o.Seq <= d.vector[o.Site] {
		return
	}
	key := posKey(o.Pos)
	switch o.Kind {
	case opInsert:
		if _, gone := d.dead[key]; !gone {
			i := sort.Search(len(d.atoms), func(i int) bool {
				return comparePos(d.atoms[i].pos, o.Pos) >= 0
			})
			if i == len(d.atoms) || comparePos(d.atoms[i].pos, o.Pos) != 0 {
				d.atoms = append(d.atoms, atom{})
				copy(d.atoms[i+1:], d.atoms[i:])
				d.atoms[i] = atom{pos: o.Pos, ch: o.Ch}
			}
		}
	case opDelete:
		d.dead[key] = struct{}{}
		i := sort.Search(len(d.atoms), func(i int) bool {
			return comparePos(d.atoms[i].pos, o.Pos) >= 0
		})
		if i < len(d.atoms) && comparePos(d.atoms[i].pos, o.Pos) == 0 {
			d.atoms = append(d.atoms[:i], d.atoms[i+1:]...)
		}
	}
	d.log[o.Site] = append(d.log[o.Site], o)
	d.vector[o.Site] = o.Seq
}

// posBetween allocates a fresh position strictly between p and q. Nil p
// and q stand for the document start and end sentinels. Once the built
// prefix sorts strictly below q, q stops constraining deeper levels;
// until then every appended ident must stay at or below q's, including
// the site/clock tie-break on equal digits.
func posBetween(p, q position, site string, clock uint64) position {
	var out position
	for i := 0; ; i++ {
		pd, qd := uint64(0), base
		if i < len(p) {
			pd = p[i].Digit
		}
		if q != nil && i < len(q) {
			qd = q[i].Digit
		}
		if qd > pd+1 {
			gap := qd - pd - 1
			if gap > maxStep {
				gap = maxStep
			}
			step := uint64(1) + rand.Uint64N(gap)
			return append(out, ident{Digit: pd + step, Site: site, Clock: clock})
		}
		if i < len(p) {
			out = append(out, p[i])
			if q != nil && i < len(q) && compareIdent(p[i], q[i]) < 0 {
				q = nil
			}
			continue
		}
		// Past p's depth with no room under q's digit. A zero ident only
		// works if it still sorts below q's here; otherwise follow q down
		// and find room at a deeper level.
		next := ident{Digit: 0, Site: site, Clock: clock}
		if compareIdent(next, q[i]) < 0 {
			q = nil
		} else {
			next = q[i]
		}
		out = append(out, next)
	}
}
