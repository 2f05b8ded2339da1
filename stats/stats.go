// Package stats implements the per-fragment entry counters, records-in-range
// estimator, and background stat-refresh monitor (spec.md §4.11). Grounded
// on original_source/storage/ndb/.../DbtuxStat.cpp's statRecordsInRange /
// getEntriesBeforeOrAfter "perfectly balanced subtree" estimate, replayed
// here over ttree.PathToRoot instead of NDB's in-place TreeNode walk, and
// on the teacher's handleStatsCommand as the ad hoc counter set this
// generalizes into real per-fragment Prometheus metrics.
package stats

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/ttree"
)

var (
	entryCountGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ordidx",
		Subsystem: "index",
		Name:      "entry_count",
		Help:      "Live entries in the fragment's index.",
	}, []string{"fragment"})
	entryBytesGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ordidx",
		Subsystem: "index",
		Name:      "entry_bytes",
		Help:      "Estimated live entry payload bytes in the fragment's index.",
	}, []string{"fragment"})
	entryOpsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ordidx",
		Subsystem: "index",
		Name:      "entry_ops_total",
		Help:      "Insert/delete operations observed since the index was opened.",
	}, []string{"fragment"})
	statRefreshCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ordidx",
		Subsystem: "index",
		Name:      "stat_refresh_total",
		Help:      "Background stat-refresh triggers fired.",
	}, []string{"fragment"})
)

func init() {
	prometheus.MustRegister(entryCountGauge, entryBytesGauge, entryOpsCounter, statRefreshCounter)
}

// Counters tracks entry_count/entry_bytes/entry_ops for one fragment
// (spec.md §4.11), lock-free so hot insert/delete paths never contend on
// them.
type Counters struct {
	frag  contract.FragmentID
	label string

	entryCount  atomic.Int64
	entryBytes  atomic.Int64
	entryOps    atomic.Int64
	opsAtRefresh atomic.Int64
}

// NewCounters builds a fragment's counter set, labeling its Prometheus
// series by frag's numeric id.
func NewCounters(frag contract.FragmentID) *Counters {
	return &Counters{frag: frag, label: fragLabel(frag)}
}

func fragLabel(frag contract.FragmentID) string {
	return strconv.FormatUint(uint64(frag), 10)
}

// RecordInsert accounts for one newly inserted entry of size bytes.
func (c *Counters) RecordInsert(bytes int) {
	c.entryCount.Add(1)
	c.entryBytes.Add(int64(bytes))
	c.entryOps.Add(1)
	entryCountGauge.WithLabelValues(c.label).Set(float64(c.entryCount.Load()))
	entryBytesGauge.WithLabelValues(c.label).Set(float64(c.entryBytes.Load()))
	entryOpsCounter.WithLabelValues(c.label).Inc()
}

// RecordDelete accounts for one physically removed entry of size bytes.
func (c *Counters) RecordDelete(bytes int) {
	c.entryCount.Add(-1)
	c.entryBytes.Add(-int64(bytes))
	c.entryOps.Add(1)
	entryCountGauge.WithLabelValues(c.label).Set(float64(c.entryCount.Load()))
	entryBytesGauge.WithLabelValues(c.label).Set(float64(c.entryBytes.Load()))
	entryOpsCounter.WithLabelValues(c.label).Inc()
}

func (c *Counters) EntryCount() int64 { return c.entryCount.Load() }
func (c *Counters) EntryBytes() int64 { return c.entryBytes.Load() }
func (c *Counters) EntryOps() int64   { return c.entryOps.Load() }

// NeedsRefresh reports whether entry_ops has drifted from entry_count by
// enough to warrant a stat refresh (spec.md §4.11's background monitor
// trigger: "entry_ops * trigger_scale > trigger_pct * entry_count").
func (c *Counters) NeedsRefresh(triggerPct, triggerScale int64) bool {
	opsSince := c.entryOps.Load() - c.opsAtRefresh.Load()
	count := c.entryCount.Load()
	if count <= 0 {
		return opsSince > 0
	}
	return opsSince*triggerScale > triggerPct*count
}

// MarkRefreshed resets the ops-since-refresh baseline.
func (c *Counters) MarkRefreshed() {
	c.opsAtRefresh.Store(c.entryOps.Load())
	statRefreshCounter.WithLabelValues(c.label).Inc()
}

// RangeEstimate is the (total, in_range, before_range, after_range) tuple
// statRecordsInRange returns (spec.md §4.11).
type RangeEstimate struct {
	Total       int64
	InRange     int64
	BeforeRange int64
	AfterRange  int64
}

// RecordsInRange estimates the RECORDS_IN_RANGE pseudo-column for a scan
// whose first and last positions are already known (spec.md §4.11):
// walking each boundary's path to the root, estimating the subtree on the
// far side of each branch as max(0, (subtree_total-node_occup)/2) under a
// "perfectly balanced" assumption, the same two-sided accounting as
// DbtuxStat.cpp's statRecordsInRange/getEntriesBeforeOrAfter.
func RecordsInRange(ctx context.Context, tree *ttree.Tree, counters *Counters, first, last ttree.Position, firstPos, lastPos int) (RangeEstimate, error) {
	total := counters.EntryCount()

	before, err := entriesBeforeOrAfter(ctx, tree, first, firstPos, total, false)
	if err != nil {
		return RangeEstimate{}, err
	}
	after, err := entriesBeforeOrAfter(ctx, tree, last, lastPos, total, true)
	if err != nil {
		return RangeEstimate{}, err
	}

	var inRange int64
	if first.Node == last.Node {
		inRange = int64(lastPos-firstPos) + 1
	} else if rem := before + after; total > rem {
		inRange = total - rem
	} else {
		// random guess one node apart, matching statRecordsInRange's
		// fallback when the two estimates overlap.
		inRange = 4
	}

	return RangeEstimate{Total: total, InRange: inRange, BeforeRange: before, AfterRange: after}, nil
}

// entriesBeforeOrAfter estimates entries strictly before (after=false) or
// after (after=true) pos within node, per getEntriesBeforeOrAfter: each
// branch to the opposite direction wins its parent node's occupancy plus
// an estimated half of the remaining total, then the contribution from
// levels below pos's own node is folded in last.
func entriesBeforeOrAfter(ctx context.Context, tree *ttree.Tree, pos ttree.Position, posInNode int, total int64, after bool) (int64, error) {
	path, err := tree.PathToRoot(ctx, pos)
	if err != nil {
		return 0, err
	}
	dir := 0
	if after {
		dir = 1
	}

	var cnt int64
	tot := total
	for i := 0; i+1 < len(path); i++ {
		occup := int64(path[i].Occup)
		side := path[i+1].Side
		if tot >= occup {
			tot = (tot - occup) / 2
		} else {
			tot = 0
		}
		if side != dir {
			cnt += occup
			cnt += tot
		}
	}

	occup := int64(path[len(path)-1].Occup)
	if !after {
		if posInNode != 0 {
			cnt += int64(posInNode) - 1
		}
	} else {
		cnt += occup - int64(posInNode+1)
	}
	if tot >= occup {
		tot = (tot - occup) / 2
	} else {
		tot = 0
	}
	cnt += tot
	return cnt, nil
}

// Monitor periodically checks every registered fragment's Counters and
// triggers a caller-supplied refresh callback when NeedsRefresh fires
// (spec.md §4.11 "A background monitor, one per index ... subject to a
// minimum update delay"). Grounded on the teacher's worker-pool ticking
// idiom in filodb_workers.go, generalized from a fixed work queue to a
// fragment-keyed refresh trigger.
type Monitor struct {
	triggerPct   int64
	triggerScale int64
	minDelay     time.Duration

	stop chan struct{}
}

// NewMonitor builds a background monitor; call Run to start it and Stop to
// tear it down.
func NewMonitor(triggerPct, triggerScale int64, minDelay time.Duration) *Monitor {
	return &Monitor{triggerPct: triggerPct, triggerScale: triggerScale, minDelay: minDelay, stop: make(chan struct{})}
}

// Run polls every entry in fragments at minDelay intervals until ctx is
// canceled or Stop is called, invoking refresh(frag) whenever that
// fragment's Counters says it needs one.
func (m *Monitor) Run(ctx context.Context, fragments map[contract.FragmentID]*Counters, refresh func(contract.FragmentID)) {
	ticker := time.NewTicker(m.minDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			for frag, c := range fragments {
				if c.NeedsRefresh(m.triggerPct, m.triggerScale) {
					refresh(frag)
					c.MarkRefreshed()
				}
			}
		}
	}
}

// Stop halts a running Monitor.
func (m *Monitor) Stop() {
	close(m.stop)
}
