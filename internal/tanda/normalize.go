package tanda

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeName NFC-normalises a display name and collapses whitespace,
// so "Tanda  Café" typed on two keyboards compares equal.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.Join(strings.Fields(name), " "))
}

// NormalizeWallet trims a wallet address.
func NormalizeWallet(wallet string) string {
	return strings.TrimSpace(wallet)
}
