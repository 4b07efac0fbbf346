package cognitive

import (
	"regexp"
	"strings"
)

// DimensionWidth is the width of the dimensional feature vector: four
// families of four slots each.
const DimensionWidth = 16

// DimensionNames lists the slot layout of the dimensional vector. The order
// is fixed; the fused vector concatenates these after the semantic vector.
var DimensionNames = [DimensionWidth]string{
	// Emotional
	"valence", "arousal", "frustration", "satisfaction",
	// Temporal
	"urgency", "deadline_proximity", "recency_reference", "duration_scope",
	// Contextual
	"technical", "exploratory", "instructional", "reflective",
	// Social
	"collaborative", "authoritative", "interpersonal", "isolated",
}

// Lexicon tables. These are configuration, not algorithm: scores come from
// counting cue hits and clamping to the declared range. Valence lives in
// [-1, 1]; every other dimension in [0, 1].
var (
	positiveWords = map[string]float64{
		"good": 0.5, "great": 0.8, "excellent": 1.0, "love": 0.9, "nice": 0.5,
		"works": 0.6, "working": 0.5, "clean": 0.4, "fast": 0.4, "happy": 0.8,
		"solved": 0.8, "fixed": 0.7, "success": 0.8, "successful": 0.8,
		"finally": 0.5, "elegant": 0.7, "useful": 0.5, "helpful": 0.5,
	}
	negativeWords = map[string]float64{
		"bad": 0.5, "terrible": 0.9, "awful": 0.9, "hate": 0.9, "broken": 0.7,
		"slow": 0.4, "wrong": 0.5, "fails": 0.7, "failed": 0.7, "failing": 0.7,
		"bug": 0.5, "crash": 0.7, "error": 0.4, "ugly": 0.5, "confusing": 0.5,
		"stuck": 0.6, "annoying": 0.7, "worse": 0.6, "mess": 0.6,
	}
	arousalWords = map[string]float64{
		"very": 0.3, "extremely": 0.6, "really": 0.3, "so": 0.2,
		"urgent": 0.6, "critical": 0.6, "amazing": 0.5, "terrible": 0.5,
		"excited": 0.6, "furious": 0.8, "panic": 0.8, "wow": 0.5,
	}
	frustrationWords = map[string]float64{
		"stuck": 0.6, "frustrated": 0.9, "frustrating": 0.8, "annoying": 0.6,
		"annoyed": 0.6, "broken": 0.5, "again": 0.3, "still": 0.2,
		"why": 0.2, "ugh": 0.8, "giving": 0.3, "impossible": 0.6,
	}
	satisfactionWords = map[string]float64{
		"works": 0.6, "worked": 0.6, "fixed": 0.7, "solved": 0.8,
		"done": 0.4, "finally": 0.5, "success": 0.7, "great": 0.5,
		"perfect": 0.8, "shipped": 0.6, "passing": 0.5, "resolved": 0.7,
	}

	technicalWords = []string{
		"code", "function", "api", "bug", "compile", "server", "database",
		"algorithm", "deploy", "test", "module", "config", "library",
		"interface", "query", "cache", "thread", "memory", "vector", "build",
	}
	exploratoryWords = []string{
		"wonder", "explore", "curious", "maybe", "perhaps", "investigate",
		"experiment", "what if", "could we", "alternative", "idea", "brainstorm",
	}
	instructionalWords = []string{
		"how to", "step", "first", "then", "next", "install", "run",
		"guide", "tutorial", "instructions", "follow", "configure", "setup",
	}
	reflectiveWords = []string{
		"learned", "realized", "in hindsight", "retrospect", "looking back",
		"i think", "reflection", "takeaway", "lesson", "should have",
	}

	collaborativeWords = []string{
		"we", "our", "us", "team", "together", "pair", "everyone", "let's",
	}
	authoritativeWords = []string{
		"must", "should", "always", "never", "require", "required",
		"mandatory", "policy", "standard", "do not",
	}
	interpersonalWords = []string{
		"you", "they", "them", "meeting", "discussion", "told", "asked",
		"agreed", "review", "feedback",
	}
	isolatedWords = []string{
		"alone", "myself", "solo", "independently", "on my own", "by myself",
	}
)

// Temporal cue patterns with documented weights. Each matched pattern adds
// its weight; totals clamp to [0, 1].
var (
	urgencyCues = []weightedPattern{
		{regexp.MustCompile(`(?i)\burgent(ly)?\b`), 0.6},
		{regexp.MustCompile(`(?i)\basap\b`), 0.6},
		{regexp.MustCompile(`(?i)\bimmediately\b`), 0.5},
		{regexp.MustCompile(`(?i)\bright (now|away)\b`), 0.5},
		{regexp.MustCompile(`(?i)\bcritical\b`), 0.4},
		{regexp.MustCompile(`!{2,}`), 0.3},
	}
	deadlineCues = []weightedPattern{
		{regexp.MustCompile(`(?i)\bdeadline\b`), 0.6},
		{regexp.MustCompile(`(?i)\bdue\b`), 0.4},
		{regexp.MustCompile(`(?i)\bby (tomorrow|tonight|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`), 0.5},
		{regexp.MustCompile(`(?i)\beod\b|\bend of (day|week)\b`), 0.5},
		{regexp.MustCompile(`(?i)\btomorrow\b`), 0.3},
	}
	recencyCues = []weightedPattern{
		{regexp.MustCompile(`(?i)\bjust now\b|\bjust (did|finished|saw)\b`), 0.5},
		{regexp.MustCompile(`(?i)\byesterday\b`), 0.4},
		{regexp.MustCompile(`(?i)\brecently\b`), 0.4},
		{regexp.MustCompile(`(?i)\blast (week|night|month)\b`), 0.3},
		{regexp.MustCompile(`(?i)\bearlier\b`), 0.3},
	}
	durationCues = []weightedPattern{
		{regexp.MustCompile(`(?i)\blong[- ]term\b`), 0.6},
		{regexp.MustCompile(`(?i)\bongoing\b`), 0.5},
		{regexp.MustCompile(`(?i)\bfor (months|years|weeks)\b`), 0.5},
		{regexp.MustCompile(`(?i)\bpermanent(ly)?\b`), 0.5},
		{regexp.MustCompile(`(?i)\bquick(ly)?\b|\bshort[- ]term\b`), 0.2},
	}
)

type weightedPattern struct {
	re     *regexp.Regexp
	weight float64
}

// DimensionExtractor derives the 16-slot dimensional vector from text.
// It is rule-based and deterministic: a sentiment word count for the
// emotional family, weighted regex cues for the temporal family, and
// keyword classifiers for the contextual and social families.
type DimensionExtractor struct{}

// NewDimensionExtractor returns the default rule-based extractor.
func NewDimensionExtractor() *DimensionExtractor {
	return &DimensionExtractor{}
}

// Extract returns the dimensional vector and its named map. Values are
// clamped to the declared range for each dimension.
func (e *DimensionExtractor) Extract(text string) ([]float32, map[string]float64) {
	lower := strings.ToLower(text)
	words := tokenize(lower)

	dims := make(map[string]float64, DimensionWidth)

	// Emotional.
	var pos, neg float64
	for _, w := range words {
		pos += positiveWords[w]
		neg += negativeWords[w]
	}
	n := float64(len(words))
	if n == 0 {
		n = 1
	}
	dims["valence"] = clamp((pos-neg)/maxf(1, n/8), -1, 1)
	dims["arousal"] = clamp(lexiconScore(words, arousalWords)+0.2*float64(strings.Count(text, "!")), 0, 1)
	dims["frustration"] = clamp(lexiconScore(words, frustrationWords), 0, 1)
	dims["satisfaction"] = clamp(lexiconScore(words, satisfactionWords), 0, 1)

	// Temporal.
	dims["urgency"] = cueScore(lower, urgencyCues)
	dims["deadline_proximity"] = cueScore(lower, deadlineCues)
	dims["recency_reference"] = cueScore(lower, recencyCues)
	dims["duration_scope"] = cueScore(lower, durationCues)

	// Contextual: multi-label keyword classifier.
	dims["technical"] = keywordScore(lower, words, technicalWords)
	dims["exploratory"] = keywordScore(lower, words, exploratoryWords)
	dims["instructional"] = keywordScore(lower, words, instructionalWords)
	dims["reflective"] = keywordScore(lower, words, reflectiveWords)

	// Social.
	dims["collaborative"] = keywordScore(lower, words, collaborativeWords)
	dims["authoritative"] = keywordScore(lower, words, authoritativeWords)
	dims["interpersonal"] = keywordScore(lower, words, interpersonalWords)
	dims["isolated"] = keywordScore(lower, words, isolatedWords)

	vec := make([]float32, DimensionWidth)
	for i, name := range DimensionNames {
		vec[i] = float32(dims[name])
	}
	return vec, dims
}

func tokenize(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '\'')
	})
}

func lexiconScore(words []string, lexicon map[string]float64) float64 {
	var total float64
	for _, w := range words {
		total += lexicon[w]
	}
	return total
}

func cueScore(lower string, cues []weightedPattern) float64 {
	var total float64
	for _, c := range cues {
		if c.re.MatchString(lower) {
			total += c.weight
		}
	}
	return clamp(total, 0, 1)
}

// keywordScore counts cue hits. Multi-word cues match as substrings,
// single-word cues as whole tokens. Two hits saturate the dimension.
func keywordScore(lower string, words []string, cues []string) float64 {
	wordSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		wordSet[w] = struct{}{}
	}
	var hits float64
	for _, cue := range cues {
		if strings.ContainsRune(cue, ' ') {
			if strings.Contains(lower, cue) {
				hits++
			}
		} else if _, ok := wordSet[cue]; ok {
			hits++
		}
	}
	return clamp(hits*0.5, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
