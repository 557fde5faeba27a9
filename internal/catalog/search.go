package catalog

import (
	"math"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// synonyms expand a query word into aliases common in local electronics
// retail. Kept small on purpose; every alias adds noise.
var synonyms = []struct {
	triggers []string
	add      []string
}{
	{[]string{"consola", "consolas"}, []string{"ps5", "playstation", "xbox", "nintendo", "switch"}},
	{[]string{"nintendo", "nintendos", "nintento"}, []string{"nintendo", "switch"}},
	{[]string{"play", "playstation"}, []string{"ps5", "playstation"}},
	{[]string{"joystick", "control"}, []string{"joystick", "control", "dualshock", "dualsense"}},
	{[]string{"auriculares", "auricular", "headset", "cascos"}, []string{"auriculares", "headset"}},
	{[]string{"silla", "gamer"}, []string{"silla", "gamer"}},
}

func expandSynonyms(words []string) []string {
	seen := make(map[string]bool, len(words))
	out := make([]string, 0, len(words))
	add := func(w string) {
		if w != "" && !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	for _, w := range words {
		add(w)
	}
	for _, syn := range synonyms {
		for _, trigger := range syn.triggers {
			if seen[trigger] {
				for _, alias := range syn.add {
					add(alias)
				}
				break
			}
		}
	}
	return out
}

// fuzzyLimit is the edit distance tolerated for a query word of n bytes.
func fuzzyLimit(n int) int {
	switch {
	case n >= 10:
		return 3
	case n >= 7:
		return 2
	case n >= 4:
		return 1
	}
	return 0
}

// wordHit reports whether word appears in text, exactly or within the fuzzy
// limit of one of its tokens ("illa" still finds "silla").
func wordHit(word, text string) bool {
	if word == "" || text == "" {
		return false
	}
	if strings.Contains(text, word) {
		return true
	}
	limit := fuzzyLimit(len(word))
	if limit == 0 {
		return false
	}
	for _, tok := range strings.Fields(text) {
		if d := len(tok) - len(word); d > limit || -d > limit {
			continue
		}
		if levenshtein.ComputeDistance(word, tok) <= limit {
			return true
		}
	}
	return false
}

type scoredItem struct {
	item  Item
	score int
}

func rank(items []Item, query string, limit int, opts Options) []Item {
	if limit <= 0 {
		return nil
	}
	q := normalize(query)
	words := expandSynonyms(strings.Fields(q))
	offset := max(0, opts.Offset)
	maxPrice := opts.MaxPrice

	scored := make([]scoredItem, 0, len(items))
	for _, it := range items {
		name := normalize(it.Name)
		cat := normalize(it.Category)
		id := normalize(it.ID)

		score := 0
		if q != "" {
			if strings.Contains(name, q) {
				score += 3
			}
			if strings.Contains(cat, q) {
				score += 2
			}
			if strings.Contains(id, q) {
				score++
			}
		}
		if len(words) > 0 {
			hitName, hitCat := 0, 0
			for _, w := range words {
				if wordHit(w, name) {
					hitName++
				}
				if wordHit(w, cat) {
					hitCat++
				}
			}
			score += min(3, hitName+min(1, hitCat))
		}

		price, known := it.PriceARS()
		if maxPrice > 0 && known {
			if price <= maxPrice {
				score++
			} else {
				step := math.Max(1, maxPrice/3)
				score -= int(math.Min(3, math.Ceil((price-maxPrice)/step)))
			}
		}
		if score <= 0 {
			continue
		}
		if maxPrice > 0 && known && price > maxPrice*1.2 {
			continue
		}
		scored = append(scored, scoredItem{item: it, score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	if offset >= len(scored) {
		return nil
	}
	end := min(len(scored), offset+limit)
	out := make([]Item, 0, end-offset)
	for _, s := range scored[offset:end] {
		out = append(out, s.item)
	}
	return out
}
