package feed

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// domainLabelPattern はホスト名の1ラベルとして有効な文字列。
var domainLabelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// NormalizeInput は利用者の入力を検出対象の絶対URLに正規化する。
// http(s)の絶対URLはそのまま、ドメイン構文として妥当なホスト名は https:// を補う。
// いずれにも当てはまらない場合はfalseを返す。
func NormalizeInput(raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}

	if u, err := url.Parse(raw); err == nil && u.IsAbs() {
		scheme := strings.ToLower(u.Scheme)
		if (scheme != "http" && scheme != "https") || u.Hostname() == "" {
			return nil, false
		}
		u.Scheme = scheme
		return u, true
	}

	if !IsValidDomain(raw) {
		return nil, false
	}
	return &url.URL{Scheme: "https", Host: strings.ToLower(raw)}, true
}

// IsValidDomain はホスト名がドメイン構文として妥当かを判定する。
// ラベル規則に加えて、ICANNの公開サフィックス配下であることを要求する。
func IsValidDomain(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if len(host) == 0 || len(host) > 253 {
		return false
	}

	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if !domainLabelPattern.MatchString(label) {
			return false
		}
	}

	suffix, icann := publicsuffix.PublicSuffix(host)
	if !icann || suffix == host {
		return false
	}
	return true
}

// HostKey はURLからペーシング用のホスト名キー（小文字、ポートなし）を返す。
// パースできない場合は入力文字列全体をキーとする。
func HostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return strings.ToLower(u.Hostname())
}

// pathSegments はURLパスを空要素を除いたセグメント列に分割する。
func pathSegments(u *url.URL) []string {
	var segs []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// isHostOf はhostnameがdomainそのもの、またはそのサブドメインかを大文字小文字を区別せずに判定する。
func isHostOf(hostname string, domains ...string) bool {
	h := strings.ToLower(strings.TrimSuffix(hostname, "."))
	for _, d := range domains {
		if h == d || strings.HasSuffix(h, "."+d) {
			return true
		}
	}
	return false
}
