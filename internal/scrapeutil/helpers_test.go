package scrapeutil

import "testing"

func TestDigitsOnly(t *testing.T) {
	if got := DigitsOnly(" 12.345-6 "); got != "123456" {
		t.Fatalf("DigitsOnly = %q, want \"123456\"", got)
	}
	if got := DigitsOnly("abc"); got != "" {
		t.Fatalf("DigitsOnly(\"abc\") = %q, want empty string", got)
	}
}

func TestIsDigits(t *testing.T) {
	if !IsDigits("1234 567") {
		t.Fatalf("expected spaced digits to count as digits")
	}
	if IsDigits("") || IsDigits("12a") || IsDigits("   ") {
		t.Fatalf("expected empty and mixed strings to be rejected")
	}
}

func TestNormalizeName(t *testing.T) {
	if got := NormalizeName("  maria   da silva "); got != "MARIA DA SILVA" {
		t.Fatalf("NormalizeName = %q", got)
	}
	if got := NormalizeName("joão"); got != "JOÃO" {
		t.Fatalf("NormalizeName = %q", got)
	}
}

func TestContainsAnyAndIsUpperText(t *testing.T) {
	if !ContainsAny("Pesquisar por Palavra-chave", "palavra", "busca") {
		t.Fatalf("expected ContainsAny to match case-insensitively")
	}
	if ContainsAny("Nome", "cpf") {
		t.Fatalf("expected no match")
	}
	if !IsUpperText("JOSÉ SOUZA 12") || IsUpperText("José") || IsUpperText("123") {
		t.Fatalf("IsUpperText gave unexpected results")
	}
}

func TestStripQuotes(t *testing.T) {
	if got := StripQuotes(` "ABC" `); got != "ABC" {
		t.Fatalf("StripQuotes = %q", got)
	}
}
