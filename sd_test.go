//go:build windows
// +build windows

package localipc

import "testing"

func TestLookupInvalidSidFails(t *testing.T) {
	_, err := LookupSidByName(".\\weoifjdsklfj")
	aerr, ok := err.(*AccountLookupError)
	if !ok || aerr.Err != cERROR_NONE_MAPPED {
		t.Fatalf("expected AccountLookupError with ERROR_NONE_MAPPED, got %s", err)
	}
}

func TestLookupEmptyNameFails(t *testing.T) {
	_, err := LookupSidByName("")
	aerr, ok := err.(*AccountLookupError)
	if !ok || aerr.Err != cERROR_NONE_MAPPED {
		t.Fatalf("expected AccountLookupError with ERROR_NONE_MAPPED, got %s", err)
	}
}

func TestSddlRoundTrip(t *testing.T) {
	const sddl = "O:SYG:SYD:P(A;;GA;;;SY)(A;;GA;;;BA)"
	sd, err := SddlToSecurityDescriptor(sddl)
	if err != nil {
		t.Fatalf("SddlToSecurityDescriptor: %v", err)
	}
	if len(sd) == 0 {
		t.Fatal("expected a non-empty security descriptor")
	}
	back, err := SecurityDescriptorToSddl(sd)
	if err != nil {
		t.Fatalf("SecurityDescriptorToSddl: %v", err)
	}
	if back == "" {
		t.Fatal("expected a non-empty round-tripped SDDL string")
	}
}
