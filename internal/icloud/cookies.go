package icloud

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// Jar is a serializable cookie jar. net/http/cookiejar cannot be persisted,
// and the whole point of this client is that the identity provider's session
// cookies survive process restarts, so we keep our own.
//
// A Jar belongs to exactly one account's session and must not be shared.
type Jar struct {
	mu      sync.Mutex
	entries map[string]jarEntry
}

type jarEntry struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

func (e jarEntry) key() string {
	return e.Domain + ";" + e.Path + ";" + e.Name
}

func (e jarEntry) expired(now time.Time) bool {
	return !e.Expires.IsZero() && e.Expires.Before(now)
}

// NewJar returns an empty jar.
func NewJar() *Jar {
	return &Jar{entries: make(map[string]jarEntry)}
}

// LoadJar restores a jar from Serialize output. Empty input yields an empty
// jar, so a first run needs no special casing.
func LoadJar(data []byte) (*Jar, error) {
	jar := NewJar()
	if len(data) == 0 {
		return jar, nil
	}
	var entries []jarEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	for _, e := range entries {
		jar.entries[e.key()] = e
	}
	return jar, nil
}

// Serialize renders the jar as JSON. Expired cookies are skipped.
func (j *Jar) Serialize() ([]byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	entries := make([]jarEntry, 0, len(j.entries))
	for _, e := range j.entries {
		if e.expired(now) {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, k int) bool { return entries[i].key() < entries[k].key() })
	return json.Marshal(entries)
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	for _, c := range cookies {
		e := jarEntry{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   strings.TrimPrefix(c.Domain, "."),
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		if e.Domain == "" {
			e.Domain = u.Hostname()
		}
		if e.Path == "" {
			e.Path = "/"
		}
		if c.MaxAge > 0 {
			e.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}
		if c.MaxAge < 0 || e.expired(now) {
			delete(j.entries, e.key())
			continue
		}
		j.entries[e.key()] = e
	}
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	host := u.Hostname()
	path := u.Path
	if path == "" {
		path = "/"
	}

	var matched []jarEntry
	for _, e := range j.entries {
		if e.expired(now) {
			continue
		}
		if !domainMatch(host, e.Domain) || !pathMatch(path, e.Path) {
			continue
		}
		if e.Secure && u.Scheme != "https" {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, k int) bool { return matched[i].key() < matched[k].key() })

	cookies := make([]*http.Cookie, 0, len(matched))
	for _, e := range matched {
		cookies = append(cookies, &http.Cookie{Name: e.Name, Value: e.Value})
	}
	return cookies
}

func domainMatch(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func pathMatch(requestPath, cookiePath string) bool {
	if cookiePath == "/" || requestPath == cookiePath {
		return true
	}
	return strings.HasPrefix(requestPath, strings.TrimSuffix(cookiePath, "/")+"/")
}
