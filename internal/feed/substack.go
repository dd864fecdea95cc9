package feed

import (
	"context"
	"net/url"
	"strings"

	"github.com/hitoshi/feedsync/internal/model"
)

// substackReservedSubdomains は個人のニュースレターではないsubstack.comのサブドメイン。
var substackReservedSubdomains = map[string]bool{
	"www": true, "open": true, "on": true, "cdn": true, "support": true,
}

// substackReservedSegments はハンドルやパブリケーション名として扱わない名前。
var substackReservedSegments = map[string]bool{
	"profile": true, "inbox": true, "settings": true, "search": true,
	"discover": true, "home": true,
}

// Substack製ページの判定に使う語。投稿へのリンクや一般的な購読ボタンには反応しないよう、
// 配信基盤とページ構造に固有のものだけを使う。
var (
	substackBrandMarkers   = []string{"substackcdn.com", `content="substack"`}
	substackRelatedMarkers = []string{"window._preloads", `"pub":{`, "subscribe-widget", "post-preview"}
)

// SubstackResolver はSubstackのフィードを解決する。
//
//	sub.substack.com/...              -> https://sub.substack.com/feed
//	substack.com/@handle              -> https://handle.substack.com/feed
//	open.substack.com/pub/<name>/...  -> https://name.substack.com/feed
//	独自ドメイン（Substack製）        -> https://<host>/feed
type SubstackResolver struct {
	validator *CandidateValidator
}

// NewSubstackResolver はSubstackResolverを生成する。
func NewSubstackResolver(validator *CandidateValidator) *SubstackResolver {
	return &SubstackResolver{validator: validator}
}

func (r *SubstackResolver) Name() string { return "substack" }

func (r *SubstackResolver) IsHost(hostname string) bool {
	return isHostOf(hostname, "substack.com")
}

func (r *SubstackResolver) BuildCandidates(u *url.URL, hint CandidateHint) []string {
	host := strings.ToLower(u.Hostname())
	segs := pathSegments(u)
	var candidates []string

	if r.IsHost(host) {
		sub := strings.TrimSuffix(strings.TrimSuffix(host, "substack.com"), ".")
		switch {
		case sub != "" && !strings.Contains(sub, ".") && !substackReservedSubdomains[sub]:
			candidates = append(candidates, "https://"+host+"/feed")
		case len(segs) > 0 && strings.HasPrefix(segs[0], "@"):
			if name := substackName(strings.TrimPrefix(segs[0], "@")); name != "" {
				candidates = append(candidates, "https://"+name+".substack.com/feed")
			}
		case len(segs) > 1 && segs[0] == "pub":
			if name := substackName(segs[1]); name != "" {
				candidates = append(candidates, "https://"+name+".substack.com/feed")
			}
		}
	} else if hint.PoweredBy {
		candidates = append(candidates, "https://"+host+"/feed")
	}

	return finalizeCandidates(u, candidates)
}

func (r *SubstackResolver) ResolveFeeds(ctx context.Context, rawURL string, html []byte) []model.ResolvedFeed {
	return resolveByCandidates(ctx, r, r.validator, rawURL, html)
}

// IsPoweredBy はSubstackのCDN（またはgeneratorメタ）とSubstack固有のページ構造が併存するかで判定する。
func (r *SubstackResolver) IsPoweredBy(html []byte) bool {
	return containsMarkers(html, substackBrandMarkers, substackRelatedMarkers)
}

// substackName はサブドメインとして使える名前であれば小文字で返す。
func substackName(name string) string {
	name = strings.ToLower(name)
	if substackReservedSegments[name] || substackReservedSubdomains[name] || !domainLabelPattern.MatchString(name) {
		return ""
	}
	return name
}
