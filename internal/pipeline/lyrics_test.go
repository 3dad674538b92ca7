package pipeline

import "testing"

func TestLRCTimestamp(t *testing.T) {
	tests := []struct {
		clock string
		want  string
		ok    bool
	}{
		{"0.0", "[00:00.00]", true},
		{"12.5", "[00:12.50]", true},
		{"75", "[01:15.00]", true},
		{"1:02.345", "[01:02.34]", true},
		{"1:02:03.4", "[62:03.40]", true},
		{"", "", false},
		{"abc", "", false},
		{"1:2:3:4", "", false},
		{"-1", "", false},
	}
	for _, tt := range tests {
		got, ok := lrcTimestamp(tt.clock)
		if ok != tt.ok || got != tt.want {
			t.Errorf("lrcTimestamp(%q) = %q, %v; want %q, %v", tt.clock, got, ok, tt.want, tt.ok)
		}
	}
}

func TestTTMLToLRC(t *testing.T) {
	ttml := `<tt xmlns="http://www.w3.org/ns/ttml"><body><div>` +
		`<p begin="0.5" end="1.0">Hello   <span>world</span></p>` +
		`<p begin="1:05.25">second line</p>` +
		`<p>unsynced</p>` +
		`</div></body></tt>`
	got, err := ttmlToLRC(ttml)
	if err != nil {
		t.Fatalf("ttmlToLRC: %v", err)
	}
	want := "[00:00.50]Hello world\n[01:05.25]second line\nunsynced"
	if got != want {
		t.Fatalf("ttmlToLRC = %q, want %q", got, want)
	}
}

func TestTTMLToLRCRejectsMalformed(t *testing.T) {
	if _, err := ttmlToLRC("<tt><body><p begin=\"0\">open"); err == nil {
		t.Fatal("expected parse error")
	}
}
