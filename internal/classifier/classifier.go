// Package classifier assigns files to organisation categories using path
// patterns, filename keywords, and content keywords.
package classifier

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Signal weights. A category's score is the sum of its matched signals,
// capped at 1.0.
const (
	PatternWeight         = 0.4
	FilenameKeywordWeight = 0.3
	ContentKeywordWeight  = 0.2

	// Fallback is the category used when no rule matches.
	Fallback           = "miscellaneous"
	FallbackConfidence = 0.1

	// DatedFolderThreshold is the file count above which folder names get a
	// year-month suffix.
	DatedFolderThreshold = 20
)

// Result is the outcome of classifying one file.
type Result struct {
	Category   string  `json:"classification"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// rule holds the signals for one category.
type rule struct {
	category        string
	patterns        []*regexp.Regexp
	keywords        []string
	contentKeywords []string
}

func newRule(category string, patterns, keywords, contentKeywords []string) rule {
	r := rule{category: category, keywords: keywords, contentKeywords: contentKeywords}
	for _, p := range patterns {
		r.patterns = append(r.patterns, regexp.MustCompile("(?i)"+p))
	}
	return r
}

// rules is evaluated in order; on equal scores the earlier category wins.
var rules = []rule{
	newRule("documents",
		[]string{`\.pdf$`, `\.docx?$`, `\.txt$`, `\.rtf$`, `\.odt$`},
		[]string{"document", "report", "manual", "guide", "specification"},
		[]string{"contract", "agreement", "policy", "procedure"}),
	newRule("invoices",
		[]string{`invoice`, `bill`, `receipt`, `payment`},
		[]string{"invoice", "bill", "receipt", "payment", "charge"},
		[]string{"total", "amount", "due", "invoice", "billing"}),
	newRule("reports",
		[]string{`report`, `analysis`, `summary`, `review`},
		[]string{"report", "analysis", "summary", "review", "findings"},
		[]string{"conclusion", "recommendation", "analysis", "findings"}),
	newRule("presentations",
		[]string{`\.pptx?$`, `\.key$`, `\.odp$`},
		[]string{"presentation", "slides", "deck", "pitch"},
		[]string{"slide", "presentation", "overview"}),
	newRule("spreadsheets",
		[]string{`\.xlsx?$`, `\.csv$`, `\.ods$`},
		[]string{"spreadsheet", "data", "calculation", "budget"},
		[]string{"total", "sum", "calculation", "budget"}),
	newRule("images",
		[]string{`\.jpe?g$`, `\.png$`, `\.gif$`, `\.bmp$`, `\.svg$`, `\.tiff?$`},
		[]string{"image", "photo", "picture", "graphic"},
		nil),
	newRule("videos",
		[]string{`\.mp4$`, `\.avi$`, `\.mov$`, `\.wmv$`, `\.flv$`, `\.mkv$`},
		[]string{"video", "movie", "clip", "recording"},
		nil),
	newRule("audio",
		[]string{`\.mp3$`, `\.wav$`, `\.flac$`, `\.aac$`, `\.ogg$`},
		[]string{"audio", "music", "sound", "recording"},
		nil),
	newRule("code",
		[]string{`\.py$`, `\.js$`, `\.html$`, `\.css$`, `\.java$`, `\.cpp$`, `\.c$`},
		[]string{"code", "script", "program", "source"},
		[]string{"function", "class", "import", "def", "var"}),
	newRule("archives",
		[]string{`\.zip$`, `\.rar$`, `\.7z$`, `\.tar$`, `\.gz$`},
		[]string{"archive", "backup", "compressed"},
		nil),
	newRule("certificates",
		[]string{`certificate`, `cert`, `diploma`, `award`},
		[]string{"certificate", "certification", "diploma", "award", "qualification"},
		[]string{"certified", "completion", "achievement", "qualification"}),
}

var folderNames = map[string]string{
	"invoices":      "Invoices & Bills",
	"reports":       "Reports & Analysis",
	"presentations": "Presentations & Slides",
	"spreadsheets":  "Spreadsheets & Data",
	"images":        "Images & Photos",
	"videos":        "Videos & Media",
	"audio":         "Audio & Music",
	"code":          "Code & Scripts",
	"archives":      "Archives & Backups",
	"certificates":  "Certificates & Awards",
	"documents":     "Documents",
	Fallback:        "Other Files",
}

var timeNow = time.Now

// Categories returns the rule categories in tie-break order, followed by the
// fallback category.
func Categories() []string {
	out := make([]string, 0, len(rules)+1)
	for _, r := range rules {
		out = append(out, r.category)
	}
	return append(out, Fallback)
}

// Classify scores path (and content, when non-empty) against every category
// and returns the highest scoring one. Patterns match against the full path;
// keywords match against the base name. Matching is case-insensitive.
func Classify(path, content string) Result {
	lowerPath := strings.ToLower(path)
	name := strings.ToLower(filepath.Base(path))
	lowerContent := strings.ToLower(content)

	best := -1
	var bestScore float64
	var parts []string

	for i, r := range rules {
		var score float64
		var reasons []string

		for _, p := range r.patterns {
			if p.MatchString(lowerPath) {
				score += PatternWeight
				reasons = append(reasons, fmt.Sprintf("matches %s pattern", p.String()[len("(?i)"):]))
			}
		}
		for _, k := range r.keywords {
			if strings.Contains(name, k) {
				score += FilenameKeywordWeight
				reasons = append(reasons, fmt.Sprintf("filename contains '%s'", k))
			}
		}
		if content != "" {
			for _, k := range r.contentKeywords {
				if strings.Contains(lowerContent, k) {
					score += ContentKeywordWeight
					reasons = append(reasons, fmt.Sprintf("content contains '%s'", k))
				}
			}
		}

		if score <= 0 {
			continue
		}
		score = min(score, 1.0)
		parts = append(parts, r.category+": "+strings.Join(reasons, ", "))
		if score > bestScore {
			best, bestScore = i, score
		}
	}

	if best < 0 {
		return Result{Category: Fallback, Confidence: FallbackConfidence, Reasoning: "No specific patterns matched"}
	}
	return Result{
		Category:   rules[best].category,
		Confidence: bestScore,
		Reasoning:  fmt.Sprintf("Classified as %s because: %s", rules[best].category, strings.Join(parts, "; ")),
	}
}

// FolderName returns the display folder name for category. Groups of more
// than DatedFolderThreshold files get a " (YYYY-MM)" suffix.
func FolderName(category string, fileCount int) string {
	name, ok := folderNames[category]
	if !ok {
		name = titleCase(category)
	}
	if fileCount > DatedFolderThreshold {
		return fmt.Sprintf("%s (%s)", name, timeNow().Format("2006-01"))
	}
	return name
}

func titleCase(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
