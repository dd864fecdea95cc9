package feed

import (
	"context"
	"net/url"
	"strings"

	"github.com/hitoshi/feedsync/internal/model"
)

// mediumReservedSegments はパブリケーション名として扱わない先頭パスセグメント。
var mediumReservedSegments = map[string]bool{
	"tag": true, "tags": true, "search": true, "me": true, "m": true, "p": true,
	"topic": true, "topics": true, "settings": true, "membership": true, "plans": true,
	"about": true, "new-story": true, "creators": true, "policy": true, "hc": true,
	"feed": true,
}

var (
	mediumBrandMarkers   = []string{"cdn-client.medium.com", "miro.medium.com", "medium.com/_/"}
	mediumRelatedMarkers = []string{"com.medium.reader", "al:android:app_name", "data-post-id", "postid"}
)

// MediumResolver はMediumのフィードを解決する。
//
//	sub.medium.com/...        -> https://sub.medium.com/feed
//	medium.com/@name/...      -> https://medium.com/feed/@name
//	medium.com/<publication>  -> https://medium.com/feed/<publication>
//	独自ドメイン（Medium製）  -> https://<host>/feed
type MediumResolver struct {
	validator *CandidateValidator
}

// NewMediumResolver はMediumResolverを生成する。
func NewMediumResolver(validator *CandidateValidator) *MediumResolver {
	return &MediumResolver{validator: validator}
}

func (r *MediumResolver) Name() string { return "medium" }

func (r *MediumResolver) IsHost(hostname string) bool {
	return isHostOf(hostname, "medium.com")
}

func (r *MediumResolver) BuildCandidates(u *url.URL, hint CandidateHint) []string {
	host := strings.ToLower(u.Hostname())
	var candidates []string

	switch {
	case r.IsHost(host) && host != "medium.com" && host != "www.medium.com":
		candidates = append(candidates, "https://"+host+"/feed")
	case r.IsHost(host):
		segs := pathSegments(u)
		if len(segs) == 0 {
			break
		}
		first := segs[0]
		if strings.HasPrefix(first, "@") {
			if len(first) > 1 {
				candidates = append(candidates, "https://medium.com/feed/"+first)
			}
		} else if !mediumReservedSegments[strings.ToLower(first)] {
			candidates = append(candidates, "https://medium.com/feed/"+first)
		}
	case hint.PoweredBy:
		candidates = append(candidates, "https://"+host+"/feed")
	}

	return finalizeCandidates(u, candidates)
}

func (r *MediumResolver) ResolveFeeds(ctx context.Context, rawURL string, html []byte) []model.ResolvedFeed {
	return resolveByCandidates(ctx, r, r.validator, rawURL, html)
}

// IsPoweredBy はMediumのアセットホストとMedium固有のメタ情報が併存するかで判定する。
func (r *MediumResolver) IsPoweredBy(html []byte) bool {
	return containsMarkers(html, mediumBrandMarkers, mediumRelatedMarkers)
}
