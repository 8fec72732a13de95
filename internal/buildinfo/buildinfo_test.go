package buildinfo

import (
	"runtime"
	"testing"
)

func stamp(t *testing.T, version, commit, date string) {
	t.Helper()
	oldVersion, oldCommit, oldDate := Version, Commit, Date
	Version, Commit, Date = version, commit, date
	t.Cleanup(func() {
		Version, Commit, Date = oldVersion, oldCommit, oldDate
	})
}

func TestString(t *testing.T) {
	stamp(t, "1.2.3", "deadbeef", "2026-01-30")

	got := String()
	want := "version=1.2.3 commit=deadbeef date=2026-01-30 go=" + runtime.Version()
	if got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestShort(t *testing.T) {
	cases := []struct {
		commit string
		want   string
	}{
		{commit: "none", want: "1.2.3"},
		{commit: "", want: "1.2.3"},
		{commit: "abc", want: "1.2.3+abc"},
		{commit: "deadbeefcafe", want: "1.2.3+deadbee"},
	}
	for _, tc := range cases {
		stamp(t, "1.2.3", tc.commit, "2026-01-30")
		if got := Short(); got != tc.want {
			t.Fatalf("Short() with commit %q = %q, want %q", tc.commit, got, tc.want)
		}
	}
}
