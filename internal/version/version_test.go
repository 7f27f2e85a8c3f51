package version_test

import (
	"strings"
	"testing"

	v "github.com/keithlinneman/tours-web/internal/version"
)

func TestVCSDirtyTriState(t *testing.T) {
	t.Cleanup(func() { v.VCSDirty = nil })

	v.VCSDirty = nil
	if info := v.Get(); info.VCSDirty != nil {
		t.Fatalf("VCSDirty = %v, want nil", info.VCSDirty)
	}

	for _, want := range []bool{true, false} {
		val := want
		v.VCSDirty = &val
		info := v.Get()
		if info.VCSDirty == nil || *info.VCSDirty != want {
			t.Fatalf("VCSDirty = %v, want %v", info.VCSDirty, want)
		}
	}
}

func TestGet_LdflagsWin(t *testing.T) {
	old := v.Version
	t.Cleanup(func() { v.Version = old })

	v.Version = "1.4.0"
	if got := v.Get().Version; got != "1.4.0" {
		t.Fatalf("Version = %q, want 1.4.0", got)
	}
}

func TestInfo_String(t *testing.T) {
	dirty := true
	s := v.Info{Version: "1.4.0", Commit: "0123456789abcdef", GoVersion: "go1.24.11", VCSDirty: &dirty}.String()
	for _, want := range []string{v.AppName, "1.4.0", "0123456789ab", "dirty", "go1.24.11"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
	if strings.Contains(s, "cdef") {
		t.Errorf("commit should be shortened: %q", s)
	}
}
