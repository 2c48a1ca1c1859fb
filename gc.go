package lily

import "go.uber.org/zap"

// GcEntry is the bookkeeping record the cycle collector keeps for every
// GC_TAGGED payload: a small fixed struct threaded into an intrusive
// doubly-linked list so registration and removal are O(1).
type GcEntry struct {
	payload  gcObject
	prev     *GcEntry
	next     *GcEntry
	lastSeen uint64 // last_pass_seen: the collector pass id that last visited this entry
}

// Collector owns the GC_TAGGED entry list and the four sweep passes:
// mark roots, destroy cycles, invalidate dangling registers, reap
// entries. It has no knowledge of the register file itself; the VM hands
// it root values and register slots to patch.
type Collector struct {
	head      *GcEntry
	tail      *GcEntry
	count     int
	threshold int
	passID    uint64

	log *zap.Logger
}

// NewCollector builds a Collector with the given allocation threshold:
// the count of live GC_TAGGED entries above which execution triggers a
// pass. A nil logger is replaced with a no-op one.
func NewCollector(threshold int, log *zap.Logger) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{threshold: threshold, log: log}
}

func (c *Collector) register(obj gcObject) {
	e := &GcEntry{payload: obj}
	if c.tail == nil {
		c.head, c.tail = e, e
	} else {
		c.tail.next = e
		e.prev = c.tail
		c.tail = e
	}
	*obj.gcEntry() = e
	c.count++
}

func (c *Collector) unlink(e *GcEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	c.count--
}

// ShouldCollect reports whether the live entry count has crossed the
// configured threshold.
func (c *Collector) ShouldCollect() bool { return c.count >= c.threshold }

// Roots is supplied by the VM at collection time: every register slot and
// global currently reachable, plus a callback to null out a register when
// its payload is reaped in pass 3.
type Roots struct {
	Values    []Value
	Registers []*Value
}

// Collect runs the four-phase collection protocol over the current root
// set. It is safe to call even when count is below threshold; the VM
// decides when to call it via ShouldCollect.
func (c *Collector) Collect(roots Roots) int {
	c.passID++
	pass := c.passID
	c.log.Debug("gc pass start", zap.Uint64("pass", pass), zap.Int("entries", c.count))

	// Phase 1: mark roots.
	for _, v := range roots.Values {
		c.markValue(v)
	}
	for _, rv := range roots.Registers {
		if rv != nil {
			c.markValue(*rv)
		}
	}

	// Phase 2: destroy cycles — every GC_TAGGED entry not reached by the
	// mark pass is part of an unreachable cycle (or garbage chain); sever
	// its outgoing references so later destruction in phase 4 can't walk
	// back into freed memory. Entries whose payload already died through
	// refcounting have a nil payload (the destructor detached it before
	// freeing); they are reaped in phase 4 but must not be severed again.
	var unreached []*GcEntry
	for e := c.head; e != nil; e = e.next {
		if e.lastSeen != pass {
			unreached = append(unreached, e)
		}
	}
	for _, e := range unreached {
		if e.payload != nil {
			e.payload.gcSever()
		}
	}

	// Phase 3: invalidate dangling registers — any root register slot that
	// still points at a to-be-reaped entry is nulled before the entries are
	// actually freed, so no live register observes a half-destroyed value
	// on the next instruction.
	reaped := make(map[gcObject]bool, len(unreached))
	for _, e := range unreached {
		if e.payload != nil {
			reaped[e.payload] = true
		}
	}
	for _, rv := range roots.Registers {
		if rv != nil && rv.obj != nil {
			if g, ok := rv.obj.(gcObject); ok && reaped[g] {
				*rv = Value{}
			}
		}
	}

	// Phase 4: reap entries.
	n := 0
	for _, e := range unreached {
		c.unlink(e)
		n++
	}

	c.log.Debug("gc pass stop", zap.Uint64("pass", pass), zap.Int("reaped", n), zap.Int("remaining", c.count))
	return n
}

// markValue is the mark-phase visitor: it walks into any GC_TAGGED or
// GC_SPECULATIVE payload reachable from v, coloring each GcEntry it
// touches with the current pass id so phase 2 can tell reached from
// unreached in one linear scan.
func (c *Collector) markValue(v Value) {
	if !v.IsDerefable() || v.obj == nil {
		return
	}
	g, ok := v.obj.(gcObject)
	if !ok {
		return
	}
	e := *g.gcEntry()
	if e == nil {
		// GC_SPECULATIVE payload that happens to hold no tagged children
		// this time around (e.g. a Function with no upvalues); nothing to
		// color, but still mark through it.
		g.gcMark(c)
		return
	}
	if e.lastSeen == c.passID {
		return
	}
	e.lastSeen = c.passID
	g.gcMark(c)
}

// DumpEntries renders the live GcEntry chain for debugging, grounded on
// the same spew-based approach as DumpRegisters.
func (c *Collector) DumpEntries() string {
	return dumpGCChain(c)
}
