// Package nlp implements the text-based PII detection sub-engine: regex
// families for email/phone/SSN/credit-card/DoB/IP plus Indic-name script
// matching, synthesized coordinates for plain-text input, proximity
// merging, and duplicate removal.
package nlp

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/happy2234/gopnik/internal/boxes"
	"github.com/happy2234/gopnik/internal/pii"
)

// Input is what the NLP sub-engine accepts: plain text, a list of lines
// (joined with newlines), or text with real coordinates that override
// synthesized ones.
type Input struct {
	Text        string
	Lines       []string
	Coordinates []boxes.BoundingBox // optional, parallel to Lines
	PageNumber  int
}

func (in Input) resolvedText() string {
	if in.Text != "" {
		return in.Text
	}
	return strings.Join(in.Lines, "\n")
}

// Config enables/disables regex families and tunes thresholds.
type Config struct {
	EnableEmail      bool
	EnablePhone      bool
	EnableSSN        bool
	EnableCreditCard bool
	EnableDOB        bool
	EnableIPAddress  bool
	EnableIndicNames bool
	EnableLatinNames bool

	NameConfidenceThreshold float64
	ProximityThreshold      int // pixels
}

// DefaultConfig returns the NLP detector defaults: every family enabled.
func DefaultConfig() Config {
	return Config{
		EnableEmail:             true,
		EnablePhone:             true,
		EnableSSN:               true,
		EnableCreditCard:        true,
		EnableDOB:               true,
		EnableIPAddress:         true,
		EnableIndicNames:        true,
		EnableLatinNames:        true,
		NameConfidenceThreshold: 0.7,
		ProximityThreshold:      40,
	}
}

// Detector implements the text sub-engine contract.
type Detector struct {
	cfg Config
}

// New returns a Detector configured by cfg.
func New(cfg Config) *Detector {
	if cfg.ProximityThreshold <= 0 {
		cfg.ProximityThreshold = 40
	}
	return &Detector{cfg: cfg}
}

// SupportedTypes lists the PII types this engine can emit.
func (d *Detector) SupportedTypes() []pii.Type {
	var out []pii.Type
	if d.cfg.EnableEmail {
		out = append(out, pii.TypeEmail)
	}
	if d.cfg.EnablePhone {
		out = append(out, pii.TypePhone)
	}
	if d.cfg.EnableSSN {
		out = append(out, pii.TypeSSN)
	}
	if d.cfg.EnableCreditCard {
		out = append(out, pii.TypeCreditCard)
	}
	if d.cfg.EnableDOB {
		out = append(out, pii.TypeDOB)
	}
	if d.cfg.EnableIPAddress {
		out = append(out, pii.TypeIPAddress)
	}
	if d.cfg.EnableIndicNames || d.cfg.EnableLatinNames {
		out = append(out, pii.TypeName)
	}
	return out
}

// Configure replaces the active configuration.
func (d *Detector) Configure(cfg Config) { d.cfg = cfg }

// ModelInfo describes this engine's backend.
func (d *Detector) ModelInfo() map[string]any {
	return map[string]any{"engine": "nlp", "backend": "regex-table"}
}

// Detect scans the input for every enabled regex family, synthesizes
// coordinates for plain text, then applies proximity merge and duplicate
// removal.
func (d *Detector) Detect(in Input) (*pii.Collection, []error) {
	text := in.resolvedText()
	collection := pii.NewCollection()
	var errs []error

	lineOf := lineIndexer(text)

	addDetections := func(t pii.Type, matches []match) {
		for _, m := range matches {
			line, lineStart := lineOf(m.start)
			box := d.synthesizeBox(line, m.start-lineStart, m.end-m.start, len(text))
			if override, ok := coordinateOverride(in, line); ok {
				box = override
			}
			det, err := pii.New(t, box, m.confidence, in.PageNumber, pii.MethodNLP)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			det = det.WithTextContent(m.text)
			for k, v := range m.metadata {
				det = det.WithMetadata(k, v)
			}
			collection.Add(det)
		}
	}

	if d.cfg.EnableEmail {
		addDetections(pii.TypeEmail, findEmails(text))
	}
	if d.cfg.EnablePhone {
		addDetections(pii.TypePhone, findPhones(text))
	}
	if d.cfg.EnableSSN {
		addDetections(pii.TypeSSN, findSSNs(text))
	}
	if d.cfg.EnableCreditCard {
		addDetections(pii.TypeCreditCard, findCreditCards(text))
	}
	if d.cfg.EnableDOB {
		addDetections(pii.TypeDOB, findDOBs(text))
	}
	if d.cfg.EnableIPAddress {
		addDetections(pii.TypeIPAddress, findIPAddresses(text))
	}
	if d.cfg.EnableIndicNames {
		addDetections(pii.TypeName, findIndicNames(text))
	}
	if d.cfg.EnableLatinNames {
		threshold := d.cfg.NameConfidenceThreshold
		if threshold <= 0 {
			threshold = 0.7
		}
		addDetections(pii.TypeName, findLatinNames(text, threshold))
	}

	merged := proximityMerge(collection, d.cfg.ProximityThreshold)
	deduped := merged.Deduplicate(pii.DuplicateIoUThreshold)
	return deduped, errs
}

func coordinateOverride(in Input, line int) (boxes.BoundingBox, bool) {
	if line < 0 || line >= len(in.Coordinates) {
		return boxes.BoundingBox{}, false
	}
	return in.Coordinates[line], true
}

// synthesizeBox builds a placeholder coordinate proportional to the match's
// character offset within its line, so downstream redaction has a
// positional anchor even for plain-text input.
func (d *Detector) synthesizeBox(line, colStart, length, totalLen int) boxes.BoundingBox {
	const charWidth = 7
	const lineHeight = 14
	x1 := colStart * charWidth
	x2 := x1 + length*charWidth
	if x2 <= x1 {
		x2 = x1 + charWidth
	}
	y1 := line * lineHeight
	y2 := y1 + lineHeight
	box, err := boxes.New(x1, y1, x2, y2)
	if err != nil {
		box, _ = boxes.New(0, 0, charWidth, lineHeight)
	}
	return box
}

func lineIndexer(text string) func(offset int) (line, lineStart int) {
	starts := []int{0}
	for i, r := range text {
		if r == '\n' {
			starts = append(starts, i+1)
		}
	}
	return func(offset int) (int, int) {
		line := 0
		lineStart := 0
		for i, s := range starts {
			if s > offset {
				break
			}
			line = i
			lineStart = s
		}
		return line, lineStart
	}
}

// proximityMerge merges same-type, same-page detections on nearby synthesized
// or real coordinates (within threshold pixels) by concatenating their text
// content.
func proximityMerge(c *pii.Collection, threshold int) *pii.Collection {
	all := c.All()
	merged := make([]pii.Detection, 0, len(all))
	used := make([]bool, len(all))

	for i, d := range all {
		if used[i] {
			continue
		}
		cur := d
		for j := i + 1; j < len(all); j++ {
			if used[j] || all[j].Type != cur.Type || all[j].PageNumber != cur.PageNumber {
				continue
			}
			if withinProximity(cur.BoundingBox, all[j].BoundingBox, threshold) {
				cur = mergeProximate(cur, all[j])
				used[j] = true
			}
		}
		merged = append(merged, cur)
	}
	return pii.NewCollection(merged...)
}

func withinProximity(a, b boxes.BoundingBox, threshold int) bool {
	dx := a.X2 - b.X1
	if dx < 0 {
		dx = -dx
	}
	dy := a.Y1 - b.Y1
	if dy < 0 {
		dy = -dy
	}
	return dx <= threshold && dy <= threshold
}

func mergeProximate(a, b pii.Detection) pii.Detection {
	merged := pii.Merge(a, b)
	return merged.WithTextContent(a.TextContent + " " + b.TextContent)
}

type match struct {
	start, end int
	text       string
	confidence float64
	metadata   map[string]any
}

var emailRe = regexp.MustCompile(`(?i)\b[a-z0-9_%+\-]+(?:\.[a-z0-9_%+\-]+)*@[a-z0-9\-]+(?:\.[a-z0-9\-]+)*\.[a-z]{2,}\b`)
var wellKnownTLDs = map[string]bool{"com": true, "org": true, "net": true, "edu": true, "gov": true}

func findEmails(text string) []match {
	var out []match
	for _, loc := range emailRe.FindAllStringIndex(text, -1) {
		s := text[loc[0]:loc[1]]
		confidence := 0.9
		if strings.Contains(s, "..") {
			confidence -= 0.15
		}
		parts := strings.Split(s, ".")
		if len(parts) > 1 && wellKnownTLDs[strings.ToLower(parts[len(parts)-1])] {
			confidence += 0.05
		}
		if confidence > 1 {
			confidence = 1
		}
		out = append(out, match{start: loc[0], end: loc[1], text: s, confidence: confidence})
	}
	return out
}

var (
	phoneUSRe    = regexp.MustCompile(`\b\(?\d{3}\)?[ .\-]?\d{3}[ .\-]?\d{4}\b`)
	phoneIntlRe  = regexp.MustCompile(`\+\d{1,3}[ .\-]?\d{1,4}[ .\-]?\d{3,4}[ .\-]?\d{3,4}\b`)
	phoneIndicRe = regexp.MustCompile(`\b[6-9]\d{9}\b`)
)

func findPhones(text string) []match {
	var out []match
	seen := map[string]bool{}
	add := func(loc []int, format string) {
		s := text[loc[0]:loc[1]]
		key := strconv.Itoa(loc[0]) + ":" + strconv.Itoa(loc[1])
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, match{
			start: loc[0], end: loc[1], text: normalizePhone(s, format), confidence: 0.8,
			metadata: map[string]any{"original_format": format, "original_text": s},
		})
	}
	for _, loc := range phoneIntlRe.FindAllStringIndex(text, -1) {
		add(loc, "international")
	}
	for _, loc := range phoneUSRe.FindAllStringIndex(text, -1) {
		add(loc, "us")
	}
	for _, loc := range phoneIndicRe.FindAllStringIndex(text, -1) {
		add(loc, "indic")
	}
	return out
}

func normalizePhone(s, format string) string {
	digits := digitsOnly(s)
	switch format {
	case "us":
		if len(digits) == 10 {
			return "(" + digits[0:3] + ") " + digits[3:6] + "-" + digits[6:10]
		}
	case "international":
		return "+" + digits
	}
	return s
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var (
	ssnDashRe  = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	ssnSpaceRe = regexp.MustCompile(`\b\d{3} \d{2} \d{4}\b`)
	ssnPlainRe = regexp.MustCompile(`\b\d{9}\b`)
)

func findSSNs(text string) []match {
	var out []match
	for _, loc := range ssnDashRe.FindAllStringIndex(text, -1) {
		out = append(out, match{start: loc[0], end: loc[1], text: text[loc[0]:loc[1]], confidence: 0.85})
	}
	for _, loc := range ssnSpaceRe.FindAllStringIndex(text, -1) {
		out = append(out, match{start: loc[0], end: loc[1], text: text[loc[0]:loc[1]], confidence: 0.8})
	}
	for _, loc := range ssnPlainRe.FindAllStringIndex(text, -1) {
		out = append(out, match{start: loc[0], end: loc[1], text: text[loc[0]:loc[1]], confidence: 0.55})
	}
	return out
}

var creditCardRe = regexp.MustCompile(`\b(?:\d[ \-]?){13,19}\b`)

func findCreditCards(text string) []match {
	var out []match
	for _, loc := range creditCardRe.FindAllStringIndex(text, -1) {
		s := text[loc[0]:loc[1]]
		digits := digitsOnly(s)
		if len(digits) < 13 || len(digits) > 19 {
			continue
		}
		valid := luhnValid(digits)
		if !valid {
			continue // non-Luhn digit runs are not card numbers
		}
		out = append(out, match{
			start: loc[0], end: loc[1], text: s, confidence: 0.9,
			metadata: map[string]any{"luhn_valid": valid},
		})
	}
	return out
}

// luhnValid implements the Luhn checksum algorithm.
func luhnValid(digits string) bool {
	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if alt {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alt = !alt
	}
	return sum%10 == 0
}

var (
	dobSlashRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	dobISORe   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
)

func findDOBs(text string) []match {
	var out []match
	maxYear := time.Now().Year() - 5

	check := func(loc []int, yearStr string) {
		year, err := strconv.Atoi(yearStr)
		if err != nil {
			return
		}
		if year < 1900 || year > maxYear {
			return
		}
		out = append(out, match{start: loc[0], end: loc[1], text: text[loc[0]:loc[1]], confidence: 0.75})
	}

	for _, loc := range dobSlashRe.FindAllStringSubmatchIndex(text, -1) {
		check([]int{loc[0], loc[1]}, text[loc[6]:loc[7]])
	}
	for _, loc := range dobISORe.FindAllStringSubmatchIndex(text, -1) {
		check([]int{loc[0], loc[1]}, text[loc[2]:loc[3]])
	}
	return out
}

var ipRe = regexp.MustCompile(`\b(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})\b`)

func findIPAddresses(text string) []match {
	var out []match
	for _, loc := range ipRe.FindAllStringSubmatchIndex(text, -1) {
		valid := true
		for i := 1; i <= 4; i++ {
			v, err := strconv.Atoi(text[loc[2*i]:loc[2*i+1]])
			if err != nil || v < 0 || v > 255 {
				valid = false
				break
			}
		}
		if !valid {
			continue
		}
		out = append(out, match{start: loc[0], end: loc[1], text: text[loc[0]:loc[1]], confidence: 0.85})
	}
	return out
}

// Unicode block ranges for Devanagari, Bengali, and Tamil scripts.
var (
	devanagariRe = regexp.MustCompile(`[\x{0900}-\x{097F}]+(?:\s[\x{0900}-\x{097F}]+)*`)
	bengaliRe    = regexp.MustCompile(`[\x{0980}-\x{09FF}]+(?:\s[\x{0980}-\x{09FF}]+)*`)
	tamilRe      = regexp.MustCompile(`[\x{0B80}-\x{0BFF}]+(?:\s[\x{0B80}-\x{0BFF}]+)*`)
)

func findIndicNames(text string) []match {
	var out []match
	for script, re := range map[string]*regexp.Regexp{"devanagari": devanagariRe, "bengali": bengaliRe, "tamil": tamilRe} {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			out = append(out, match{
				start: loc[0], end: loc[1], text: text[loc[0]:loc[1]], confidence: 0.7,
				metadata: map[string]any{"script": script},
			})
		}
	}
	return out
}

// latinNameRe matches a run of two to four Title-Case words, a
// capitalized-bigram stand-in for a full NER person-entity pass.
var latinNameRe = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+){1,3}\b`)

// latinNameStopWords excludes common sentence-leading or calendar
// capitalized phrases that would otherwise look like a two-word name.
var latinNameStopWords = map[string]bool{
	"The": true, "This": true, "That": true, "These": true, "Those": true,
	"January": true, "February": true, "March": true, "April": true, "May": true,
	"June": true, "July": true, "August": true, "September": true, "October": true,
	"November": true, "December": true,
	"Monday": true, "Tuesday": true, "Wednesday": true, "Thursday": true,
	"Friday": true, "Saturday": true, "Sunday": true,
}

// findLatinNames emits a name detection for each capitalized bigram (or
// longer) not led by a stop word, with confidence decaying for longer runs
// (more likely an organization or address fragment than a personal name),
// gated by minConfidence.
func findLatinNames(text string, minConfidence float64) []match {
	var out []match
	for _, loc := range latinNameRe.FindAllStringIndex(text, -1) {
		s := text[loc[0]:loc[1]]
		words := strings.Fields(s)
		if latinNameStopWords[words[0]] {
			continue
		}
		confidence := 0.75 - 0.05*float64(len(words)-2)
		if confidence < minConfidence {
			continue
		}
		out = append(out, match{
			start: loc[0], end: loc[1], text: s, confidence: confidence,
			metadata: map[string]any{"detector": "latin_name_ner"},
		})
	}
	return out
}
