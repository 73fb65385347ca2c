package xxe

import (
	"bytes"
	"encoding/xml"
	"net/http"
	"path"

	"github.com/thoas/go-funk"
	"golang.org/x/net/html/charset"
)

const (
	// DefaultPreambleLength is the length of the fixed sentence the target
	// writes in front of the expanded entity inside generalErrorText.
	DefaultPreambleLength = 38
	// DefaultTrailerLength is the number of characters closing the sentence.
	DefaultTrailerLength = 1

	DefaultBadRequestSignature   = "Bad request"
	DefaultGeneralErrorSignature = "generalError"
)

// Extractor isolates the leaked payload from the diagnostic text of a
// generalErrorText node. An empty result means nothing leaked.
type Extractor func(diagnostic string) string

// OffsetExtractor drops preamble leading and trailer trailing characters.
// Offsets count runes, not bytes.
func OffsetExtractor(preamble, trailer int) Extractor {
	if preamble < 0 {
		preamble = 0
	}
	if trailer < 0 {
		trailer = 0
	}
	return func(diagnostic string) string {
		r := []rune(diagnostic)
		end := len(r) - trailer
		if end <= preamble {
			return ""
		}
		return string(r[preamble:end])
	}
}

// Classifier turns the injection response into an Outcome. It holds no
// per-call state and may be shared between goroutines.
type Classifier struct {
	extract      Extractor
	badRequest   string
	generalError string
	rules        []rule
}

type ClassifierOption func(*Classifier)

// WithExtractor replaces the default offset extractor.
func WithExtractor(e Extractor) ClassifierOption {
	return func(c *Classifier) {
		if e != nil {
			c.extract = e
		}
	}
}

// WithSignatures overrides the body markers. Empty values keep the defaults.
func WithSignatures(badRequest, generalError string) ClassifierOption {
	return func(c *Classifier) {
		if badRequest != "" {
			c.badRequest = badRequest
		}
		if generalError != "" {
			c.generalError = generalError
		}
	}
}

func NewClassifier(opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		extract:      OffsetExtractor(DefaultPreambleLength, DefaultTrailerLength),
		badRequest:   DefaultBadRequestSignature,
		generalError: DefaultGeneralErrorSignature,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.rules = c.decisionTable()
	return c
}

type observed struct {
	status     int
	body       []byte
	text       string
	remotePath string
}

type rule struct {
	name   string
	match  func(o *observed) bool
	decide func(o *observed) Result
}

// decisionTable lists the rules in precedence order; the first match wins.
func (c *Classifier) decisionTable() []rule {
	return []rule{
		{
			name:   "empty body",
			match:  func(o *observed) bool { return len(o.body) == 0 },
			decide: verdict(OutcomeEmptyFile, "response body is empty"),
		},
		{
			name:   "redirect",
			match:  func(o *observed) bool { return o.status == http.StatusFound },
			decide: verdict(OutcomeBadCookie, "session rejected with a redirect"),
		},
		{
			name: "bad request",
			match: func(o *observed) bool {
				return o.status == http.StatusOK && funk.Contains(o.text, c.badRequest)
			},
			decide: verdict(OutcomeNotVulnerable, "target answered with a bad request message"),
		},
		{
			name: "general error",
			match: func(o *observed) bool {
				return o.status == http.StatusOK && funk.Contains(o.text, c.generalError)
			},
			decide: c.extractLoot,
		},
		{
			name:   "default",
			match:  func(*observed) bool { return true },
			decide: verdict(OutcomeNotVulnerable, "no known signature in response"),
		},
	}
}

func verdict(outcome Outcome, detail string) func(*observed) Result {
	return func(*observed) Result {
		return Result{Outcome: outcome, Detail: detail}
	}
}

// Classify decides the outcome for one injection response. remotePath is the
// file that was requested; it names the loot.
func (c *Classifier) Classify(status int, body []byte, remotePath string) Result {
	o := &observed{status: status, body: body, text: string(body), remotePath: remotePath}
	for _, r := range c.rules {
		if r.match(o) {
			return r.decide(o)
		}
	}
	return Result{Outcome: OutcomeNotVulnerable}
}

type errorMessage struct {
	XMLName    xml.Name `xml:"message"`
	ErrorTexts []string `xml:"messageBody>generalErrorText"`
}

func (c *Classifier) extractLoot(o *observed) Result {
	var msg errorMessage
	dec := xml.NewDecoder(bytes.NewReader(o.body))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Entity = xml.HTMLEntity
	if err := dec.Decode(&msg); err != nil {
		return Result{Outcome: OutcomeNotVulnerable, Detail: "error response is not parseable: " + err.Error()}
	}

	var loot string
	for _, text := range msg.ErrorTexts {
		if text == "" {
			continue
		}
		extracted := c.extract(text)
		if extracted == "" {
			return Result{Outcome: OutcomePatched, Detail: "diagnostic carries no file content"}
		}
		loot = extracted
	}
	if loot == "" {
		return Result{Outcome: OutcomeNotVulnerable, Detail: "no generalErrorText in error response"}
	}

	return Result{
		Outcome:    OutcomeLeaked,
		Detail:     "file content echoed in generalErrorText",
		Loot:       []byte(loot),
		Filename:   path.Base(o.remotePath),
		SourcePath: o.remotePath,
	}
}
