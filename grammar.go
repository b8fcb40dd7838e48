package smtpd

import "strings"

// grammar.go implements the RFC 5321 path/domain/mailbox grammar as a set
// of backtracking recognizers over a TokenEnumerator. Every recognizer
// follows the same shape: try to consume tokens, and on failure leave the
// enumerator exactly where it found it (via TryMake/Checkpoint+Rollback)
// so the caller is free to try an alternative production.
//
// Two Open Questions (spec §9) are resolved here rather than left
// ambiguous: quoted-string local parts are not implemented (DotString is
// the only LocalPart production), and EsmtpParameter values accept the RFC
// range 33-60 and 62-126, excluding '='.

const atextSymbolChars = "!#$%&'*+=?^_`{|}~"
const atextPunctChars = "-/"

// isAtextToken reports whether tok may appear inside an Atom.
func isAtextToken(tok Token) bool {
	switch tok.Kind {
	case TokenText, TokenNumber:
		return true
	case TokenSymbol:
		return len(tok.Text) == 1 && strings.IndexByte(atextSymbolChars, tok.Text[0]) >= 0
	case TokenPunctuation:
		return len(tok.Text) == 1 && strings.IndexByte(atextPunctChars, tok.Text[0]) >= 0
	default:
		return false
	}
}

// tryAtom recognizes one or more consecutive atext tokens and returns their
// concatenated text. Atom = 1*atext.
func tryAtom(e *TokenEnumerator) (string, bool) {
	return TryMake(e, func(e *TokenEnumerator) (string, bool) {
		toks := e.TakeWhile(isAtextToken)
		if len(toks) == 0 {
			return "", false
		}
		var sb strings.Builder
		for _, t := range toks {
			sb.WriteString(t.Text)
		}
		return sb.String(), true
	})
}

// isDot reports whether tok is the "." punctuation token.
func isDot(tok Token) bool {
	return tok.Kind == TokenPunctuation && tok.Text == "."
}

// tryDotString recognizes Atom *("." Atom). Quoted-string local parts are
// not implemented, so this is the only LocalPart production.
func tryDotString(e *TokenEnumerator) (string, bool) {
	return TryMake(e, func(e *TokenEnumerator) (string, bool) {
		first, ok := tryAtom(e)
		if !ok {
			return "", false
		}
		sb := strings.Builder{}
		sb.WriteString(first)
		for isDot(e.Peek()) {
			cp := e.Checkpoint()
			e.Take() // consume "."
			next, ok := tryAtom(e)
			if !ok {
				e.Rollback(cp)
				break
			}
			sb.WriteByte('.')
			sb.WriteString(next)
		}
		return sb.String(), true
	})
}

// tryLocalPart recognizes the Local-part production.
func tryLocalPart(e *TokenEnumerator) (string, bool) {
	return tryDotString(e)
}

// isLdhToken reports whether tok may appear inside a Sub-domain (Let-dig /
// Ldh-str): letters, digits, or hyphen.
func isLdhToken(tok Token) bool {
	switch tok.Kind {
	case TokenText, TokenNumber:
		return true
	case TokenPunctuation:
		return tok.Text == "-"
	default:
		return false
	}
}

// trySubdomain recognizes Let-dig [Ldh-str]: must start and end with a
// letter or digit, length 1-63.
func trySubdomain(e *TokenEnumerator) (string, bool) {
	return TryMake(e, func(e *TokenEnumerator) (string, bool) {
		toks := e.TakeWhile(isLdhToken)
		if len(toks) == 0 {
			return "", false
		}
		var sb strings.Builder
		for _, t := range toks {
			sb.WriteString(t.Text)
		}
		label := sb.String()
		if len(label) > 63 {
			return "", false
		}
		if !isAlphanumeric(rune(label[0])) || !isAlphanumeric(rune(label[len(label)-1])) {
			return "", false
		}
		return label, true
	})
}

// tryIPv4 recognizes a dotted-quad: 1*3DIGIT ("." 1*3DIGIT){3}.
func tryIPv4(e *TokenEnumerator) (string, bool) {
	return TryMake(e, func(e *TokenEnumerator) (string, bool) {
		octet := func() (string, bool) {
			tok := e.Peek()
			if tok.Kind != TokenNumber || len(tok.Text) > 3 {
				return "", false
			}
			n := 0
			for _, c := range tok.Text {
				n = n*10 + int(c-'0')
			}
			if n > 255 {
				return "", false
			}
			e.Take()
			return tok.Text, true
		}
		parts := make([]string, 0, 4)
		first, ok := octet()
		if !ok {
			return "", false
		}
		parts = append(parts, first)
		for i := 0; i < 3; i++ {
			if !isDot(e.Peek()) {
				return "", false
			}
			cp := e.Checkpoint()
			e.Take()
			next, ok := octet()
			if !ok {
				e.Rollback(cp)
				return "", false
			}
			parts = append(parts, next)
		}
		return strings.Join(parts, "."), true
	})
}

// tryAddressLiteral recognizes "[" (IPv4-address-literal / General-address-literal) "]".
func tryAddressLiteral(e *TokenEnumerator) (string, bool) {
	return TryMake(e, func(e *TokenEnumerator) (string, bool) {
		open := e.Peek()
		if open.Kind != TokenPunctuation || open.Text != "[" {
			return "", false
		}
		e.Take()
		var sb strings.Builder
		for {
			tok := e.Peek()
			if tok.Kind == TokenNone {
				return "", false
			}
			if tok.Kind == TokenPunctuation && tok.Text == "]" {
				e.Take()
				return "[" + sb.String() + "]", true
			}
			sb.WriteString(tok.Text)
			e.Take()
		}
	})
}

// tryDomain recognizes Domain = sub-domain *("." sub-domain), or an
// address literal.
func tryDomain(e *TokenEnumerator) (string, bool) {
	if lit, ok := tryAddressLiteral(e); ok {
		return lit, true
	}
	return TryMake(e, func(e *TokenEnumerator) (string, bool) {
		first, ok := trySubdomain(e)
		if !ok {
			return "", false
		}
		sb := strings.Builder{}
		sb.WriteString(first)
		for isDot(e.Peek()) {
			cp := e.Checkpoint()
			e.Take()
			next, ok := trySubdomain(e)
			if !ok {
				e.Rollback(cp)
				break
			}
			sb.WriteByte('.')
			sb.WriteString(next)
		}
		return sb.String(), true
	})
}

// grammarMailbox is the unqualified local-part@domain pair produced by the
// grammar before it is wrapped into a MailPath.
type grammarMailbox struct {
	LocalPart string
	Domain    string
}

// tryMailbox recognizes Mailbox = Local-part "@" Domain.
func tryMailbox(e *TokenEnumerator) (grammarMailbox, bool) {
	return TryMake(e, func(e *TokenEnumerator) (grammarMailbox, bool) {
		local, ok := tryLocalPart(e)
		if !ok {
			return grammarMailbox{}, false
		}
		at := e.Peek()
		if at.Kind != TokenPunctuation || at.Text != "@" {
			return grammarMailbox{}, false
		}
		e.Take()
		domain, ok := tryDomain(e)
		if !ok {
			return grammarMailbox{}, false
		}
		return grammarMailbox{LocalPart: local, Domain: domain}, true
	})
}

// tryAtDomain recognizes At-domain = "@" Domain, used by the deprecated
// source-route (A-d-l) production.
func tryAtDomain(e *TokenEnumerator) (string, bool) {
	return TryMake(e, func(e *TokenEnumerator) (string, bool) {
		at := e.Peek()
		if at.Kind != TokenPunctuation || at.Text != "@" {
			return "", false
		}
		e.Take()
		domain, ok := tryDomain(e)
		if !ok {
			return "", false
		}
		return "@" + domain, true
	})
}

// trySourceRoute recognizes A-d-l ":" — At-domain *("," At-domain) ":",
// the deprecated source-routing prefix. Per RFC 5321 §4.1.1.3, servers
// must still accept and discard it.
func trySourceRoute(e *TokenEnumerator) (string, bool) {
	return TryMake(e, func(e *TokenEnumerator) (string, bool) {
		first, ok := tryAtDomain(e)
		if !ok {
			return "", false
		}
		route := first
		for {
			tok := e.Peek()
			if tok.Kind != TokenPunctuation || tok.Text != "," {
				break
			}
			cp := e.Checkpoint()
			e.Take()
			next, ok := tryAtDomain(e)
			if !ok {
				e.Rollback(cp)
				break
			}
			route += "," + next
		}
		colon := e.Peek()
		if colon.Kind != TokenPunctuation || colon.Text != ":" {
			return "", false
		}
		e.Take()
		return route + ":", true
	})
}

// tryPath recognizes Path = "<" [ A-d-l ":" ] Mailbox ">", the general
// (non-null) forward-path/reverse-path production.
func tryPath(e *TokenEnumerator) (*MailPath, bool) {
	return TryMake(e, func(e *TokenEnumerator) (*MailPath, bool) {
		open := e.Peek()
		if open.Kind != TokenSymbol || open.Text != "<" {
			return nil, false
		}
		e.Take()

		sourceRoute, _ := trySourceRoute(e)

		mbox, ok := tryMailbox(e)
		if !ok {
			return nil, false
		}

		close := e.Peek()
		if close.Kind != TokenSymbol || close.Text != ">" {
			return nil, false
		}
		e.Take()

		return &MailPath{
			Address:     mbox.LocalPart + "@" + mbox.Domain,
			SourceRoute: sourceRoute,
		}, true
	})
}

// tryNullPath recognizes "<" Space* ">", the null reverse-path used by
// bounces.
func tryNullPath(e *TokenEnumerator) (*MailPath, bool) {
	return TryMake(e, func(e *TokenEnumerator) (*MailPath, bool) {
		open := e.Peek()
		if open.Kind != TokenSymbol || open.Text != "<" {
			return nil, false
		}
		e.Take()

		e.TakeWhile(func(t Token) bool { return t.Kind == TokenSpace })

		close := e.Peek()
		if close.Kind != TokenSymbol || close.Text != ">" {
			return nil, false
		}
		e.Take()
		return &MailPath{IsNull: true}, true
	})
}

// ParseReversePath recognizes Reverse-path = Path / "<>", the MAIL FROM
// argument grammar.
func ParseReversePath(e *TokenEnumerator) (*MailPath, bool) {
	if p, ok := tryNullPath(e); ok {
		return p, true
	}
	return tryPath(e)
}

// ParseForwardPath recognizes Forward-path = Path, the RCPT TO argument
// grammar. RFC 5321 does not permit a null forward-path.
func ParseForwardPath(e *TokenEnumerator) (*MailPath, bool) {
	return tryPath(e)
}

// isEsmtpValueByte reports whether b is in the RFC 5321 esmtp-value range:
// any CHAR other than "=", SP, and CTLs — printable ASCII 33-60 and 62-126.
func isEsmtpValueByte(b byte) bool {
	return (b >= 33 && b <= 60) || (b >= 62 && b <= 126)
}

// tryEsmtpKeyword recognizes Esmtp-keyword = (ALPHA / DIGIT) *(ALPHA / DIGIT / "-").
func tryEsmtpKeyword(e *TokenEnumerator) (string, bool) {
	return TryMake(e, func(e *TokenEnumerator) (string, bool) {
		toks := e.TakeWhile(func(t Token) bool {
			return t.Kind == TokenText || t.Kind == TokenNumber ||
				(t.Kind == TokenPunctuation && t.Text == "-")
		})
		if len(toks) == 0 {
			return "", false
		}
		first := toks[0]
		if first.Kind == TokenPunctuation {
			return "", false
		}
		var sb strings.Builder
		for _, t := range toks {
			sb.WriteString(t.Text)
		}
		return sb.String(), true
	})
}

// tryEsmtpValue recognizes Esmtp-value = 1*(%d33-60 / %d62-126), concatenating
// every token's text as long as every byte stays inside that range.
func tryEsmtpValue(e *TokenEnumerator) (string, bool) {
	return TryMake(e, func(e *TokenEnumerator) (string, bool) {
		toks := e.TakeWhile(func(t Token) bool {
			for i := 0; i < len(t.Text); i++ {
				if !isEsmtpValueByte(t.Text[i]) {
					return false
				}
			}
			return true
		})
		if len(toks) == 0 {
			return "", false
		}
		var sb strings.Builder
		for _, t := range toks {
			sb.WriteString(t.Text)
		}
		return sb.String(), true
	})
}

// ParseEsmtpParameter recognizes one Esmtp-keyword ["=" Esmtp-value] pair,
// returning the keyword uppercased and the raw value (empty if absent).
func ParseEsmtpParameter(e *TokenEnumerator) (name, value string, ok bool) {
	cp := e.Checkpoint()
	kw, ok := tryEsmtpKeyword(e)
	if !ok {
		e.Rollback(cp)
		return "", "", false
	}
	eq := e.Peek()
	if eq.Kind == TokenSymbol && eq.Text == "=" {
		e.Take()
		val, ok := tryEsmtpValue(e)
		if !ok {
			e.Rollback(cp)
			return "", "", false
		}
		return strings.ToUpper(kw), val, true
	}
	return strings.ToUpper(kw), "", true
}

// ParseMailParameters recognizes Mail-parameters = esmtp-param *(SP esmtp-param)
// over the tokens remaining after a Path, returning the accumulated
// ESMTPParams map.
func ParseMailParameters(e *TokenEnumerator) ESMTPParams {
	params := make(ESMTPParams)
	for {
		for e.Peek().Kind == TokenSpace {
			e.Take()
		}
		if e.Peek().Kind == TokenNone {
			break
		}
		name, value, ok := ParseEsmtpParameter(e)
		if !ok {
			break
		}
		params[name] = value
	}
	return params
}

const base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/="

// isValidBase64 reports whether s is 1*(Text/Number/"+"/"/") with total
// length a multiple of 4 and "=" appearing only as trailing padding
// (0-2 characters, and nowhere before a non-"=" character).
func isValidBase64(s string) bool {
	if len(s) == 0 || len(s)%4 != 0 {
		return false
	}
	padStart := strings.IndexByte(s, '=')
	if padStart == -1 {
		return true
	}
	if len(s)-padStart > 2 {
		return false
	}
	return s[padStart:] == strings.Repeat("=", len(s)-padStart)
}

// ParseBase64 recognizes a run of base64-alphabet tokens, used to
// recognize (but not decode or act on) AUTH continuation-line payloads.
// AUTH mechanism negotiation itself is out of scope. Per the grammar, the
// run's total length must be a multiple of 4, with "=" confined to
// trailing padding.
func ParseBase64(e *TokenEnumerator) (string, bool) {
	return TryMake(e, func(e *TokenEnumerator) (string, bool) {
		toks := e.TakeWhile(func(t Token) bool {
			for i := 0; i < len(t.Text); i++ {
				if strings.IndexByte(base64Chars, t.Text[i]) < 0 {
					return false
				}
			}
			return true
		})
		if len(toks) == 0 {
			return "", false
		}
		var sb strings.Builder
		for _, t := range toks {
			sb.WriteString(t.Text)
		}
		s := sb.String()
		if !isValidBase64(s) {
			return "", false
		}
		return s, true
	})
}
