package validation

import (
	"strings"
	"testing"
)

// FuzzValidateBuildFlags checks that accepted flags never carry shell metacharacters
func FuzzValidateBuildFlags(f *testing.F) {
	f.Add("-trimpath")
	f.Add("-tags=a,b -ldflags=-s")
	f.Add("-toolexec=sh")
	f.Add("-tags=$(id)")
	f.Add("-gcflags=all=-N\n-l")

	f.Fuzz(func(t *testing.T, options string) {
		flags, err := ValidateBuildFlags(options)
		if err != nil {
			return
		}
		for _, flag := range flags {
			if !strings.HasPrefix(flag, "-") {
				t.Errorf("accepted non-flag %q from %q", flag, options)
			}
			for _, char := range []string{";", "&", "|", "$", "`", "\n"} {
				if strings.Contains(flag, char) {
					t.Errorf("accepted flag %q containing %q", flag, char)
				}
			}
		}
	})
}

// FuzzValidateModuleReference checks that accepted references cannot add go.mod directives
func FuzzValidateModuleReference(f *testing.F) {
	f.Add("github.com/acme/lib@v1.0.0")
	f.Add("example.com/x=/abs")
	f.Add("x\nreplace y => z")

	f.Fuzz(func(t *testing.T, ref string) {
		if ValidateModuleReference(ref) != nil {
			return
		}
		if strings.ContainsAny(ref, " \t\r\n\"`") || strings.Contains(ref, "=>") {
			t.Errorf("accepted reference %q", ref)
		}
	})
}
