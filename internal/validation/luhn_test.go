package validation

import (
	"testing"
	"time"
)

func TestIsValidLuhn(t *testing.T) {
	tests := []struct {
		name   string
		number string
		valid  bool
	}{
		{
			name:   "valid example 1",
			number: "79927398713",
			valid:  true,
		},
		{
			name:   "valid example 2",
			number: "4539578763621486",
			valid:  true,
		},
		{
			name:   "invalid checksum",
			number: "79927398710",
			valid:  false,
		},
		{
			name:   "contains letters",
			number: "1234a67890",
			valid:  false,
		},
		{
			name:   "empty string",
			number: "",
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidLuhn(tt.number)
			if got != tt.valid {
				t.Fatalf("IsValidLuhn(%q) = %v, want %v", tt.number, got, tt.valid)
			}
		})
	}
}

func TestLuhnCheckDigit(t *testing.T) {
	if got := luhnCheckDigit("7992739871"); got != '3' {
		t.Fatalf("luhnCheckDigit = %c, want 3", got)
	}
}

func TestLoanNumber(t *testing.T) {
	applied := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)

	got := LoanNumber(applied, 42)
	if got[:10] != "ML26030100" {
		t.Fatalf("LoanNumber = %s, want prefix ML26030100", got)
	}
	if len(got) != len(LoanNumberPrefix)+loanNumberDigits {
		t.Fatalf("LoanNumber length = %d", len(got))
	}
	if !IsValidLoanNumber(got) {
		t.Fatalf("generated number %s is not valid", got)
	}

	for i := 0; i < 100; i++ {
		if n := NewLoanNumber(applied); !IsValidLoanNumber(n) {
			t.Fatalf("generated number %s is not valid", n)
		}
	}
}

func TestIsValidLoanNumber(t *testing.T) {
	valid := LoanNumber(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), 123456)

	tests := []struct {
		name   string
		number string
		valid  bool
	}{
		{name: "generated", number: valid, valid: true},
		{name: "no prefix", number: valid[2:], valid: false},
		{name: "wrong prefix", number: "XX" + valid[2:], valid: false},
		{name: "broken check digit", number: valid[:len(valid)-1] + string('0'+(valid[len(valid)-1]-'0'+1)%10), valid: false},
		{name: "too short", number: "ML123", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidLoanNumber(tt.number); got != tt.valid {
				t.Fatalf("IsValidLoanNumber(%q) = %v, want %v", tt.number, got, tt.valid)
			}
		})
	}
}
