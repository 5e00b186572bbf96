// Package reputation maps karma scores to the trust tiers shown next to a user.
package reputation

// Tier is a human-facing trust label.
type Tier string

const (
	TierProblematic Tier = "problematic"
	TierNovice      Tier = "novice"
	TierBronze      Tier = "bronze"
	TierSilver      Tier = "silver"
	TierGold        Tier = "gold"
	TierMaster      Tier = "p2p_master"
)

// Level is the classification result for a score.
type Level struct {
	Tier  Tier   `json:"tier"`
	Label string `json:"label"`
	Icon  string `json:"icon"`
}

type threshold struct {
	min   int // inclusive lower bound
	level Level
}

// thresholds is ordered by descending lower bound; the first entry whose min
// is <= score wins. The last entry has no lower bound.
var thresholds = []threshold{
	{min: 500, level: Level{Tier: TierMaster, Label: "P2P Master", Icon: "👑"}},
	{min: 200, level: Level{Tier: TierGold, Label: "Gold", Icon: "🥇"}},
	{min: 100, level: Level{Tier: TierSilver, Label: "Silver", Icon: "🥈"}},
	{min: 50, level: Level{Tier: TierBronze, Label: "Bronze", Icon: "🥉"}},
	{min: 0, level: Level{Tier: TierNovice, Label: "Novice", Icon: "🌱"}},
}

var problematic = Level{Tier: TierProblematic, Label: "Problematic", Icon: "⚠️"}

// Classify maps a score to its trust level.
func Classify(score int) Level {
	for _, t := range thresholds {
		if score >= t.min {
			return t.level
		}
	}
	return problematic
}
