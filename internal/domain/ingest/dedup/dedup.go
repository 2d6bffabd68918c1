// Package dedup detects duplicate transactions within an import batch
// and against the account's existing ledger. Matching is deterministic:
// the same batch against the same ledger always yields the same result.
package dedup

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/shopspring/decimal"

	"github.com/ledgerpipe/ledgerpipe/internal/domain/ingest/normalizer"
)

// Existing is the ledger snapshot entry a candidate is compared against.
type Existing struct {
	ID              uuid.UUID
	Date            time.Time
	Amount          decimal.Decimal
	Currency        string
	DescriptionNorm string
}

// Duplicate links a rejected candidate to the transaction it duplicates.
// RetainedID is nil when the retained row is an earlier candidate in the
// same batch that has not been persisted yet; RetainedLine points at it.
type Duplicate struct {
	Candidate    normalizer.Candidate
	RetainedID   *uuid.UUID
	RetainedLine int
	Exact        bool
	Similarity   float64
}

// Outcome partitions a batch into rows to insert and rows to discard.
type Outcome struct {
	Unique     []normalizer.Candidate
	Duplicates []Duplicate
}

// Deduplicator holds the matching thresholds for one account.
type Deduplicator struct {
	dateToleranceDays int
	similarity        float64
}

func New(dateToleranceDays int, similarity float64) *Deduplicator {
	return &Deduplicator{dateToleranceDays: dateToleranceDays, similarity: similarity}
}

// Run checks each candidate against the ledger snapshot and against the
// candidates already accepted from this batch. Re-importing the same
// file therefore yields zero new rows, and a file containing the same
// line twice keeps exactly one copy.
func (d *Deduplicator) Run(existing []Existing, batch []normalizer.Candidate) Outcome {
	ledger := make([]Existing, len(existing))
	copy(ledger, existing)
	sort.Slice(ledger, func(i, j int) bool {
		return ledger[i].ID.String() < ledger[j].ID.String()
	})

	exactIndex := make(map[string]*uuid.UUID, len(ledger))
	for i := range ledger {
		id := ledger[i].ID
		exactIndex[exactKey(ledger[i].Date, ledger[i].Amount, ledger[i].Currency, ledger[i].DescriptionNorm)] = &id
	}

	var out Outcome
	acceptedLine := map[string]int{}

	for _, c := range batch {
		key := exactKey(c.Date, c.Amount, c.Currency, c.DescriptionNorm)

		if id, ok := exactIndex[key]; ok {
			out.Duplicates = append(out.Duplicates, Duplicate{
				Candidate: c, RetainedID: id, Exact: true, Similarity: 1,
			})
			continue
		}
		if line, ok := acceptedLine[key]; ok {
			out.Duplicates = append(out.Duplicates, Duplicate{
				Candidate: c, RetainedLine: line, Exact: true, Similarity: 1,
			})
			continue
		}

		if match, sim, ok := d.nearMatch(ledger, c); ok {
			id := match.ID
			out.Duplicates = append(out.Duplicates, Duplicate{
				Candidate: c, RetainedID: &id, Similarity: sim,
			})
			continue
		}
		if line, sim, ok := d.nearMatchBatch(out.Unique, c); ok {
			out.Duplicates = append(out.Duplicates, Duplicate{
				Candidate: c, RetainedLine: line, Similarity: sim,
			})
			continue
		}

		acceptedLine[key] = c.Line
		out.Unique = append(out.Unique, c)
	}

	return out
}

func exactKey(date time.Time, amount decimal.Decimal, currency, descNorm string) string {
	return fmt.Sprintf("%s|%s|%s|%s",
		date.Format("2006-01-02"), amount.String(), currency, descNorm)
}

// nearMatch finds the best ledger entry within the date tolerance with
// the same amount and currency and a similar description. Ties break on
// smallest date distance, then lowest ID, so the result is stable.
func (d *Deduplicator) nearMatch(ledger []Existing, c normalizer.Candidate) (Existing, float64, bool) {
	var (
		best     Existing
		bestSim  float64
		bestDist int
		found    bool
	)
	for _, e := range ledger {
		dist := dateDistanceDays(e.Date, c.Date)
		if dist > d.dateToleranceDays {
			continue
		}
		if !e.Amount.Equal(c.Amount) || e.Currency != c.Currency {
			continue
		}
		sim := Similarity(e.DescriptionNorm, c.DescriptionNorm)
		if sim < d.similarity {
			continue
		}
		if !found || sim > bestSim || (sim == bestSim && dist < bestDist) {
			best, bestSim, bestDist, found = e, sim, dist, true
		}
	}
	return best, bestSim, found
}

func (d *Deduplicator) nearMatchBatch(accepted []normalizer.Candidate, c normalizer.Candidate) (int, float64, bool) {
	for _, a := range accepted {
		if dateDistanceDays(a.Date, c.Date) > d.dateToleranceDays {
			continue
		}
		if !a.Amount.Equal(c.Amount) || a.Currency != c.Currency {
			continue
		}
		if sim := Similarity(a.DescriptionNorm, c.DescriptionNorm); sim >= d.similarity {
			return a.Line, sim, true
		}
	}
	return 0, 0, false
}

func dateDistanceDays(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	days := int(da.Sub(db).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}

// Similarity scores two normalized descriptions in [0,1] as the better
// of an edit-distance ratio and a token-overlap ratio. The token score
// keeps reordered descriptions ("AMAZON MARKETPLACE" vs "MARKETPLACE
// AMAZON") recognizable when edit distance alone would not.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	dist := fuzzy.LevenshteinDistance(a, b)
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	editScore := 1 - float64(dist)/float64(longest)

	tokenScore := tokenOverlap(a, b)
	if tokenScore > editScore {
		return tokenScore
	}
	return editScore
}

func tokenOverlap(a, b string) float64 {
	ta := strings.Fields(a)
	tb := strings.Fields(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(ta))
	for _, t := range ta {
		set[t] = struct{}{}
	}
	common := 0
	for _, t := range tb {
		if _, ok := set[t]; ok {
			common++
		}
	}
	total := len(ta)
	if len(tb) > total {
		total = len(tb)
	}
	return float64(common) / float64(total)
}
