package validate

import "testing"

func TestUsername(t *testing.T) {
	cases := map[string]bool{
		"alice":        true,
		"al":           true,
		"a":            false,
		"this_is_a_name_that_is_over_thirty_chars": false,
		"bad name":     false,
		"valid-name_1": true,
	}
	for name, want := range cases {
		if err := Username(name); (err == nil) != want {
			t.Errorf("Username(%q) = %v, want valid=%v", name, err, want)
		}
	}
}

func TestRoomName(t *testing.T) {
	if err := RoomName(""); err == nil {
		t.Error("expected empty room name to be invalid")
	}
	if err := RoomName("ab"); err == nil {
		t.Error("expected 2-char room name to be invalid (min is 3)")
	}
	if err := RoomName("general chat"); err != nil {
		t.Errorf("expected valid room name, got %v", err)
	}
}

func TestContent(t *testing.T) {
	if err := Content(""); err != ErrContentEmpty {
		t.Errorf("expected ErrContentEmpty, got %v", err)
	}
	long := make([]byte, MaxContentLength+1)
	for i := range long {
		long[i] = 'a'
	}
	if err := Content(string(long)); err != ErrContentTooLong {
		t.Errorf("expected ErrContentTooLong, got %v", err)
	}
	if err := Content("hello"); err != nil {
		t.Errorf("expected valid content, got %v", err)
	}
	if MaxContentLength != 4096 {
		t.Errorf("expected MaxContentLength=4096, got %d", MaxContentLength)
	}
}

func TestSanitizeStripsControlAndCollapsesSpace(t *testing.T) {
	in := "hello\x00   world\x01\x02"
	got, err := Sanitize(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "hello world"
	if got != want {
		t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
	}
}

func TestSanitizeStripsScriptTag(t *testing.T) {
	got, err := Sanitize(`hi <script>alert(1)</script> there`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hi  there" {
		t.Errorf("expected script tag stripped, got %q", got)
	}
}

func TestSanitizeStripsIframeAndObjectAndEmbed(t *testing.T) {
	for _, in := range []string{
		`<iframe src="evil"></iframe>`,
		`<object data="evil"></object>`,
		`<embed src="evil">`,
	} {
		got, err := Sanitize(in)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", in, err)
		}
		if got != "" {
			t.Errorf("Sanitize(%q) = %q, want empty", in, got)
		}
	}
}

func TestSanitizeStripsJavascriptAndVbscriptSchemes(t *testing.T) {
	got, err := Sanitize(`click javascript:alert(1) or vbscript:msgbox(1)`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "click alert(1) or msgbox(1)" {
		t.Errorf("got %q", got)
	}
}

func TestSanitizeStripsInlineEventAttribute(t *testing.T) {
	got, err := Sanitize(`<img onerror="alert(1)" src=x>`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "&lt;img src=x&gt;"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSanitizeEscapesHTMLEntities(t *testing.T) {
	got, err := Sanitize(`<b>"it's" a & b</b>`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "&lt;b&gt;&quot;it&#39;s&quot; a &amp; b&lt;&#47;b&gt;"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSanitizeRejectsSQLShapedInput(t *testing.T) {
	for _, in := range []string{
		"1' OR '1'='1",
		"SELECT * FROM users",
		"'; DROP TABLE users; --",
		"UNION SELECT password FROM users",
	} {
		if _, err := Sanitize(in); err != ErrSQLPatternDetected {
			t.Errorf("Sanitize(%q) err = %v, want ErrSQLPatternDetected", in, err)
		}
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	inputs := []string{
		`hello <script>bad()</script> world`,
		`a & b & "c"`,
		`plain text`,
		`mix <b onclick="x()">bold</b> & more`,
	}
	for _, in := range inputs {
		once, err := Sanitize(in)
		if err != nil {
			t.Fatalf("unexpected error sanitizing %q: %v", in, err)
		}
		twice, err := Sanitize(once)
		if err != nil {
			t.Fatalf("unexpected error re-sanitizing %q: %v", once, err)
		}
		if once != twice {
			t.Errorf("Sanitize not idempotent: Sanitize(%q) = %q, Sanitize(that) = %q", in, once, twice)
		}
	}
}

func TestSpamScoreShoutingWord(t *testing.T) {
	score := SpamScore("THIS IS ALL CAPS SHOUTING INDEED", nil)
	if score < 1 {
		t.Errorf("expected shouting to contribute to the spam score, got %d", score)
	}
}

func TestSpamScoreShoutingDuplicateIsFlaggedSpam(t *testing.T) {
	recent := []string{"THIS IS ALL CAPS SHOUTING INDEED"}
	score := SpamScore("THIS IS ALL CAPS SHOUTING INDEED", recent)
	if !IsSpam(score) {
		t.Errorf("expected shouting + duplicate to cross the spam threshold, got %d", score)
	}
}

func TestSpamScoreNormalMessage(t *testing.T) {
	score := SpamScore("hey, how's it going today?", nil)
	if IsSpam(score) {
		t.Errorf("expected low spam score for normal message, got %d", score)
	}
}

func TestSpamScoreDuplicateOfRecentMessage(t *testing.T) {
	recent := []string{"hello there", "buy now cheap"}
	score := SpamScore("hello there", recent)
	if score < 1 {
		t.Errorf("expected duplicate-of-recent to contribute to score, got %d", score)
	}
}

func TestSpamScoreDominantWord(t *testing.T) {
	score := SpamScore("spam spam spam spam spam ok", nil)
	if score < 1 {
		t.Errorf("expected a dominant repeated word to contribute to score, got %d", score)
	}
}

func TestSpamScoreSuspiciousShortURL(t *testing.T) {
	score := SpamScore("check this out http://bit.ly/abcd", nil)
	if score < 1 {
		t.Errorf("expected short-URL link to contribute to score, got %d", score)
	}
}

func TestSpamScoreLengthNearCap(t *testing.T) {
	long := make([]byte, MaxContentLength*9/10)
	for i := range long {
		long[i] = 'a'
	}
	score := SpamScore(string(long), nil)
	if score < 1 {
		t.Errorf("expected near-cap length to contribute to score, got %d", score)
	}
}

func TestIsSpamThreshold(t *testing.T) {
	if IsSpam(1) {
		t.Error("score of 1 should not be spam")
	}
	if !IsSpam(2) {
		t.Error("score of 2 should be spam")
	}
}
