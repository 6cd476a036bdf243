package change

import "testing"

func TestValidatePath(t *testing.T) {
	valid := []string{"/", "/a.json", "/dir/file.txt", "/a/b/c-d_e.1.json"}
	for _, p := range valid {
		if err := ValidatePath(p); err != nil {
			t.Errorf("expected %q to be valid, got %v", p, err)
		}
	}

	invalid := []string{
		"", "a.json", "/a.json/", "//a.json", "/a/../b.json", "/a/./b.json",
		"/a\\b.json", "/a\x00b.json",
	}
	for _, p := range invalid {
		if err := ValidatePath(p); err == nil {
			t.Errorf("expected %q to be invalid", p)
		}
	}
}

func TestDirAndBase(t *testing.T) {
	if got := Dir("/a/b/c.json"); got != "/a/b" {
		t.Errorf("Dir() = %q, want /a/b", got)
	}
	if got := Dir("/c.json"); got != "/" {
		t.Errorf("Dir() = %q, want /", got)
	}
	if got := Base("/a/b/c.json"); got != "c.json" {
		t.Errorf("Base() = %q, want c.json", got)
	}
}

func TestIsAncestor(t *testing.T) {
	if !IsAncestor("/", "/a/b.json") {
		t.Error("root should be ancestor of everything")
	}
	if !IsAncestor("/a", "/a/b.json") {
		t.Error("/a should be ancestor of /a/b.json")
	}
	if IsAncestor("/a", "/ab/c.json") {
		t.Error("/a should not be ancestor of /ab/c.json")
	}
	if !IsAncestor("/a", "/a") {
		t.Error("a path is its own non-strict ancestor")
	}
}
