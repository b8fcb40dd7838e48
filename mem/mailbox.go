package mem

import (
	"context"
	"strings"
	"sync"

	"github.com/haldane-labs/smtpd"
)

// Mailbox is an in-memory recipient registry. Addresses and domains can be
// registered dynamically; Filter, built from a registry, implements
// smtpd.MailboxFilter against it.
type Mailbox struct {
	mu        sync.RWMutex
	addresses map[smtpd.EmailAddress]*MailboxEntry
	domains   map[smtpd.Domain]bool
	catchAll  bool // Accept any address at registered domains
}

// MailboxEntry represents a mailbox in the registry.
type MailboxEntry struct {
	// Address is the full email address.
	Address smtpd.EmailAddress

	// Enabled indicates if the mailbox can receive mail.
	Enabled bool

	// Aliases lists addresses that forward to this mailbox.
	Aliases []smtpd.EmailAddress
}

// NewMailbox creates a new in-memory mailbox registry.
func NewMailbox() *Mailbox {
	return &Mailbox{
		addresses: make(map[smtpd.EmailAddress]*MailboxEntry),
		domains:   make(map[smtpd.Domain]bool),
	}
}

// NewMailboxWithDomains creates a mailbox registry with accepted domains.
func NewMailboxWithDomains(domains ...smtpd.Domain) *Mailbox {
	m := NewMailbox()
	for _, d := range domains {
		m.AddDomain(d)
	}
	return m
}

// AddAddress adds an address to the registry.
func (m *Mailbox) AddAddress(address smtpd.EmailAddress) {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr := strings.ToLower(address)
	m.addresses[addr] = &MailboxEntry{
		Address: addr,
		Enabled: true,
	}

	// Also register the domain
	if idx := strings.LastIndex(addr, "@"); idx != -1 {
		domain := addr[idx+1:]
		m.domains[domain] = true
	}
}

// AddAddresses adds multiple addresses to the registry.
func (m *Mailbox) AddAddresses(addresses ...smtpd.EmailAddress) {
	for _, addr := range addresses {
		m.AddAddress(addr)
	}
}

// RemoveAddress removes an address from the registry.
func (m *Mailbox) RemoveAddress(address smtpd.EmailAddress) {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr := strings.ToLower(address)
	delete(m.addresses, addr)
}

// AddDomain adds an accepted domain.
func (m *Mailbox) AddDomain(domain smtpd.Domain) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.domains[strings.ToLower(domain)] = true
}

// RemoveDomain removes an accepted domain.
func (m *Mailbox) RemoveDomain(domain smtpd.Domain) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.domains, strings.ToLower(domain))
}

// SetCatchAll enables or disables catch-all mode.
// When enabled, any address at a registered domain is accepted.
func (m *Mailbox) SetCatchAll(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.catchAll = enabled
}

// Exists checks if a mailbox exists.
func (m *Mailbox) Exists(ctx context.Context, address smtpd.EmailAddress) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addr := strings.ToLower(address)
	_, ok := m.addresses[addr]
	return ok, nil
}

// CanReceive checks if the mailbox can currently receive mail.
func (m *Mailbox) CanReceive(ctx context.Context, address smtpd.EmailAddress) (bool, smtpd.MailboxStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addr := strings.ToLower(address)
	entry, ok := m.addresses[addr]

	if !ok {
		return false, smtpd.MailboxStatusNotFound, nil
	}

	if !entry.Enabled {
		return false, smtpd.MailboxStatusDisabled, nil
	}

	return true, smtpd.MailboxStatusOK, nil
}

// ListAddresses returns all registered addresses.
func (m *Mailbox) ListAddresses() []smtpd.EmailAddress {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]smtpd.EmailAddress, 0, len(m.addresses))
	for addr := range m.addresses {
		result = append(result, addr)
	}
	return result
}

// ListDomains returns all accepted domains.
func (m *Mailbox) ListDomains() []smtpd.Domain {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]smtpd.Domain, 0, len(m.domains))
	for domain := range m.domains {
		result = append(result, domain)
	}
	return result
}

// Filter is an smtpd.MailboxFilter backed by a Mailbox registry. Senders
// are always accepted; delivery to a non-local domain is only permitted
// for authenticated sessions (relay), mirroring the usual "accept our own
// domains, relay only for authenticated users" split.
type Filter struct {
	registry *Mailbox
}

var _ smtpd.MailboxFilter = (*Filter)(nil)

// CanAcceptFrom always accepts; this registry does not police senders.
func (f *Filter) CanAcceptFrom(ctx context.Context, sender smtpd.MailPath, declaredSize int64, session smtpd.SessionInfo) (smtpd.FilterResult, error) {
	return smtpd.FilterYes, nil
}

// CanDeliverTo accepts a recipient if it is explicitly registered, or if
// catch-all is enabled and its domain is registered. Non-local domains
// are accepted only for authenticated sessions.
func (f *Filter) CanDeliverTo(ctx context.Context, recipient smtpd.MailPath, sender smtpd.MailPath, session smtpd.SessionInfo) (smtpd.FilterResult, error) {
	f.registry.mu.RLock()
	defer f.registry.mu.RUnlock()

	addr := strings.ToLower(recipient.Address)

	if entry, ok := f.registry.addresses[addr]; ok {
		if !entry.Enabled {
			return smtpd.FilterNoPermanently, nil
		}
		return smtpd.FilterYes, nil
	}

	idx := strings.LastIndex(addr, "@")
	if idx == -1 {
		return smtpd.FilterNoPermanently, nil
	}
	domain := addr[idx+1:]

	if f.registry.domains[domain] {
		if f.registry.catchAll {
			return smtpd.FilterYes, nil
		}
		return smtpd.FilterNoPermanently, nil
	}

	if f.registry.catchAll && f.registry.coversOrganizationalDomain(domain) {
		return smtpd.FilterYes, nil
	}

	if session.Authenticated() {
		return smtpd.FilterYes, nil
	}

	return smtpd.FilterNoPermanently, nil
}

// coversOrganizationalDomain reports whether domain shares a registrable
// domain (per the Public Suffix List) with any domain already registered,
// so "mail.example.com" is covered once "example.com" is registered
// without listing every subdomain explicitly.
func (m *Mailbox) coversOrganizationalDomain(domain string) bool {
	org := organizationalDomain(domain)
	for registered := range m.domains {
		if organizationalDomain(registered) == org {
			return true
		}
	}
	return false
}

// FilterFactory produces a Filter backed by a shared Mailbox registry. The
// registry has no per-session state, so every session gets the same
// Filter instance.
type FilterFactory struct {
	registry *Mailbox
	filter   *Filter
}

var _ smtpd.MailboxFilterFactory = (*FilterFactory)(nil)

// NewFilterFactory creates a MailboxFilterFactory backed by registry.
func NewFilterFactory(registry *Mailbox) *FilterFactory {
	return &FilterFactory{registry: registry, filter: &Filter{registry: registry}}
}

// Create returns the shared Filter.
func (f *FilterFactory) Create(ctx context.Context, session smtpd.SessionInfo) (smtpd.MailboxFilter, error) {
	return f.filter, nil
}
