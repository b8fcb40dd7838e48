package mem

import "golang.org/x/net/publicsuffix"

// organizationalDomain returns the registrable domain (eTLD+1) for domain,
// using the Public Suffix List. It returns domain unchanged if no
// effective TLD can be determined, e.g. for "localhost" or malformed input.
// This lets Mailbox treat "mail.example.com" as covered by a registered
// "example.com" without requiring every subdomain to be listed explicitly.
func organizationalDomain(domain string) string {
	if d, err := publicsuffix.EffectiveTLDPlusOne(domain); err == nil {
		return d
	}
	return domain
}
