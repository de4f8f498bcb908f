package grid

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/ironsheep/omr-grader-mcp/internal/detection"
	"github.com/ironsheep/omr-grader-mcp/internal/omrerr"
)

// Options tunes row clustering and column assignment. Values are fractions
// of the zone's row or column pitch unless noted.
type Options struct {
	// RowGap splits clusters where consecutive marks are further apart than
	// RowGap row pitches along the row axis.
	RowGap float64

	// MaxRowSpan is the widest a cluster may be before it is treated as
	// several merged rows and split mark by mark.
	MaxRowSpan float64

	// MaxColOffset discards marks further than this from every column centre.
	MaxColOffset float64

	// MaxSkew bounds the estimated slope (row-axis pixels per column-axis
	// pixel). Larger estimates are clamped. Negative disables deskewing.
	MaxSkew float64
}

// minSkewFit is the R² a skew fit needs before it is applied.
const minSkewFit = 0.6

// DefaultOptions returns the standard tolerances.
func DefaultOptions() Options {
	return Options{
		RowGap:       0.5,
		MaxRowSpan:   0.75,
		MaxColOffset: 0.75,
		MaxSkew:      0.1,
	}
}

// Placed is a mark assigned to a column of a row.
type Placed struct {
	Col        int     `json:"col"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
}

// Row is one question (or index digit position) with its assigned marks,
// ordered by column. An Invalid row could not be mapped reliably and must
// not be read as blank.
type Row struct {
	Number  int      `json:"number"`
	Marks   []Placed `json:"marks,omitempty"`
	Invalid bool     `json:"invalid,omitempty"`
}

// Grid holds every configured row of one kind, indexed by Number-1.
type Grid struct {
	Kind ZoneKind `json:"kind"`
	Rows []Row    `json:"rows"`

	// Mismatched lists configured rows that became invalid placeholders.
	Mismatched []int `json:"mismatched,omitempty"`

	// Extra lists printed answer rows beyond the configured count that carry
	// marks. Always empty for the index grid.
	Extra []int `json:"extra,omitempty"`
}

// Row returns row n (1-based), or nil when out of range.
func (g *Grid) Row(n int) *Row {
	if n < 1 || n > len(g.Rows) {
		return nil
	}
	return &g.Rows[n-1]
}

// Err reports a LayoutMismatch naming the invalid and extra rows, or nil.
func (g *Grid) Err() error {
	if len(g.Mismatched) == 0 && len(g.Extra) == 0 {
		return nil
	}
	affected := append(append([]int(nil), g.Mismatched...), g.Extra...)
	switch {
	case len(g.Extra) == 0:
		return omrerr.WithQuestions(omrerr.KindLayoutMismatch, affected,
			"%s rows could not be mapped to the grid", g.Kind)
	case len(g.Mismatched) == 0:
		return omrerr.WithQuestions(omrerr.KindLayoutMismatch, affected,
			"%s marks found beyond the configured %d rows", g.Kind, len(g.Rows))
	default:
		return omrerr.WithQuestions(omrerr.KindLayoutMismatch, affected,
			"%s rows unmapped or beyond the configured %d rows", g.Kind, len(g.Rows))
	}
}

// ZoneStats describes how one zone was assembled.
type ZoneStats struct {
	Zone  Zone    `json:"zone"`
	Marks int     `json:"marks"`
	Skew  float64 `json:"skew"`
}

// Sheet is the assembled answer sheet.
type Sheet struct {
	Index   Grid        `json:"index"`
	Answers Grid        `json:"answers"`
	Zones   []ZoneStats `json:"zones"`

	// Stray counts marks that fell outside every zone or column.
	Stray int `json:"stray"`
}

// Assembler turns unordered detections into row/column grids.
// It holds no mutable state and is safe for concurrent use.
type Assembler struct {
	opts Options
}

// NewAssembler creates an assembler. Zero-valued options fall back to
// DefaultOptions.
func NewAssembler(opts Options) *Assembler {
	def := DefaultOptions()
	if opts.RowGap <= 0 {
		opts.RowGap = def.RowGap
	}
	if opts.MaxRowSpan <= 0 {
		opts.MaxRowSpan = def.MaxRowSpan
	}
	if opts.MaxColOffset <= 0 {
		opts.MaxColOffset = def.MaxColOffset
	}
	switch {
	case opts.MaxSkew == 0:
		opts.MaxSkew = def.MaxSkew
	case opts.MaxSkew < 0:
		// Negative disables deskewing.
		opts.MaxSkew = 0
	}
	return &Assembler{opts: opts}
}

// point is a mark in zone-logical coordinates.
type point struct {
	u, v float64 // column axis, row axis (v deskewed)
	x, y float64 // image position
	conf float64
}

// Assemble partitions marks into zones and builds the index and answer grids.
//
// # Algorithm
//
//  1. Partition: each mark goes to the zone containing its centre, or the
//     nearest zone whose bounds grown by half a pitch contain it.
//  2. Skew: each mark's offset from its nearest expected row centre is fitted
//     as a line across the zone; a convincing fit is removed.
//  3. Rows: 1-D agglomerative clustering on row-axis centres, splitting
//     where consecutive marks are more than RowGap pitches apart.
//  4. Mapping: each cluster goes to the nearest expected row centre. Two
//     clusters on one row make that row an invalid placeholder.
//  5. Columns: nearest column centre; marks too far from every column are
//     dropped. Two marks in one slot keep the higher confidence.
//
// Only ClassMark detections are placed. Missing marks are the normal
// "unshaded" signal and never an error.
func (a *Assembler) Assemble(marks []detection.Mark, zones []Zone, layout Layout) *Sheet {
	sheet := &Sheet{
		Index:   newGrid(KindIndex, layout.Digits),
		Answers: newGrid(KindAnswers, layout.Questions),
		Zones:   make([]ZoneStats, len(zones)),
	}

	buckets := make([][]point, len(zones))
	for _, m := range marks {
		if m.Class != detection.ClassMark {
			continue
		}
		x, y := m.Box.Center()
		zi := pickZone(zones, x, y)
		if zi < 0 {
			sheet.Stray++
			continue
		}
		u, v := zones[zi].logical(x, y)
		buckets[zi] = append(buckets[zi], point{u: u, v: v, x: x, y: y, conf: m.Confidence})
	}

	for zi, z := range zones {
		g := &sheet.Answers
		if z.Kind == KindIndex {
			g = &sheet.Index
		}
		res := a.assembleZone(z, buckets[zi])
		sheet.Zones[zi] = ZoneStats{Zone: z, Marks: len(buckets[zi]), Skew: res.skew}
		sheet.Stray += res.stray

		for i, placed := range res.rows {
			n := z.FirstRow + i
			switch {
			case n > len(g.Rows):
				// Unused printed index positions are ignored.
				if z.Kind == KindAnswers && (len(placed) > 0 || res.conflict[i]) {
					g.Extra = append(g.Extra, n)
				}
			case res.conflict[i]:
				g.Rows[n-1].Invalid = true
				g.Rows[n-1].Marks = nil
				g.Mismatched = append(g.Mismatched, n)
			default:
				g.Rows[n-1].Marks = placed
			}
		}
	}

	sort.Ints(sheet.Index.Mismatched)
	sort.Ints(sheet.Index.Extra)
	sort.Ints(sheet.Answers.Mismatched)
	sort.Ints(sheet.Answers.Extra)
	return sheet
}

func newGrid(kind ZoneKind, n int) Grid {
	rows := make([]Row, n)
	for i := range rows {
		rows[i].Number = i + 1
	}
	return Grid{Kind: kind, Rows: rows}
}

func pickZone(zones []Zone, x, y float64) int {
	best, bestDist := -1, math.Inf(1)
	for i, z := range zones {
		if !z.expanded(x, y) {
			continue
		}
		if d := z.distance(x, y); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

type zoneResult struct {
	rows     [][]Placed // by logical row
	conflict []bool
	skew     float64
	stray    int
}

func (a *Assembler) assembleZone(z Zone, pts []point) zoneResult {
	res := zoneResult{
		rows:     make([][]Placed, z.Rows),
		conflict: make([]bool, z.Rows),
	}
	if len(pts) == 0 || z.Rows == 0 {
		return res
	}

	pitch := z.RowPitch()
	if a.opts.MaxSkew > 0 {
		if offset, slope, ok := estimateSkew(z, pts); ok {
			slope = math.Max(-a.opts.MaxSkew, math.Min(a.opts.MaxSkew, slope))
			res.skew = slope
			mid := z.colMid()
			for i := range pts {
				pts[i].v -= offset + slope*(pts[i].u-mid)
			}
		}
	}
	clusters := clusterRows(pts, a.opts.RowGap*pitch)

	// Map clusters to rows. Over-wide clusters are merged rows and are split
	// by each mark's own nearest row.
	byRow := make(map[int][][]point)
	for _, c := range clusters {
		if span(c) > a.opts.MaxRowSpan*pitch {
			split := make(map[int][]point)
			for _, p := range c {
				r, d := z.nearestRow(p.v)
				if d > pitch {
					res.stray++
					continue
				}
				split[r] = append(split[r], p)
			}
			for r, part := range split {
				byRow[r] = append(byRow[r], part)
			}
			continue
		}

		r, d := z.nearestRow(meanV(c))
		if d > pitch {
			res.stray += len(c)
			continue
		}
		byRow[r] = append(byRow[r], c)
	}

	colLimit := a.opts.MaxColOffset * z.ColPitch()
	for r, groups := range byRow {
		if len(groups) > 1 {
			res.conflict[r] = true
			continue
		}
		slots := make(map[int]Placed)
		for _, p := range groups[0] {
			col, d := z.nearestCol(p.u)
			if d > colLimit {
				res.stray++
				continue
			}
			if prev, ok := slots[col]; ok && prev.Confidence >= p.conf {
				continue
			}
			slots[col] = Placed{Col: col, Confidence: p.conf, X: p.x, Y: p.y}
		}
		placed := make([]Placed, 0, len(slots))
		for _, s := range slots {
			placed = append(placed, s)
		}
		sort.Slice(placed, func(i, j int) bool { return placed[i].Col < placed[j].Col })
		res.rows[r] = placed
	}
	return res
}

// clusterRows groups points by row-axis position. A new cluster starts
// wherever the gap to the previous point exceeds gap.
func clusterRows(pts []point, gap float64) [][]point {
	sorted := append([]point(nil), pts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].v < sorted[j].v })

	var clusters [][]point
	var cur []point
	for i, p := range sorted {
		if i > 0 && p.v-sorted[i-1].v > gap {
			clusters = append(clusters, cur)
			cur = nil
		}
		cur = append(cur, p)
	}
	if len(cur) > 0 {
		clusters = append(clusters, cur)
	}
	return clusters
}

// estimateSkew fits each mark's offset from its nearest expected row centre
// as a line across the zone: offset + slope*(u - colMid). The fit is used
// only when it explains most of the offsets and the marks spread over more
// than one column; otherwise ok is false.
func estimateSkew(z Zone, pts []point) (offset, slope float64, ok bool) {
	if len(pts) < 3 {
		return 0, 0, false
	}
	mid := z.colMid()
	du := make([]float64, len(pts))
	dv := make([]float64, len(pts))
	for i, p := range pts {
		r, _ := z.nearestRow(p.v)
		du[i] = p.u - mid
		dv[i] = p.v - z.RowCenter(r)
	}
	if stat.Variance(dv, nil) < 1e-6 {
		return 0, 0, false
	}
	if cp := z.ColPitch(); stat.Variance(du, nil) < cp*cp/4 {
		return 0, 0, false
	}

	alpha, beta := stat.LinearRegression(du, dv, nil, false)
	if math.IsNaN(beta) || math.IsInf(beta, 0) {
		return 0, 0, false
	}
	if stat.RSquared(du, dv, nil, alpha, beta) < minSkewFit {
		return 0, 0, false
	}
	return alpha, beta, true
}

func span(c []point) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range c {
		lo = math.Min(lo, p.v)
		hi = math.Max(hi, p.v)
	}
	return hi - lo
}

func meanV(c []point) float64 {
	s := 0.0
	for _, p := range c {
		s += p.v
	}
	return s / float64(len(c))
}
