package pattern

import "testing"

func TestStarMatchesSingleSegment(t *testing.T) {
	m := MustCompile("/*")
	if !m.Match("/a.json") {
		t.Error("/* should match /a.json")
	}
	if m.Match("/a/b.json") {
		t.Error("/* should not match /a/b.json (single segment only)")
	}
}

func TestDoubleStarMatchesEverywhere(t *testing.T) {
	m := MustCompile("/**")
	for _, p := range []string{"/a.json", "/a/b.json", "/a/b/c/d.txt"} {
		if !m.Match(p) {
			t.Errorf("/** should match %q", p)
		}
	}
}

func TestQuestionMarkMatchesOneChar(t *testing.T) {
	m := MustCompile("/a?.json")
	if !m.Match("/ab.json") {
		t.Error("/a?.json should match /ab.json")
	}
	if m.Match("/abc.json") {
		t.Error("/a?.json should not match /abc.json")
	}
}

func TestCompileRejectsPatternWithoutLeadingSlash(t *testing.T) {
	if _, err := Compile("a/*"); err == nil {
		t.Error("expected error for pattern missing leading /")
	}
}

func TestPrefixedDoubleStar(t *testing.T) {
	m := MustCompile("/test/**")
	if !m.Match("/test/a.json") {
		t.Error("/test/** should match /test/a.json")
	}
	if !m.Match("/test/sub/a.json") {
		t.Error("/test/** should match /test/sub/a.json")
	}
	if m.Match("/other/a.json") {
		t.Error("/test/** should not match /other/a.json")
	}
}
