package linkedin

import (
	"strings"

	"github.com/postpilot-hq/postpilot-backend/pkg/enums"
)

type ugcPost struct {
	Author          string          `json:"author"`
	LifecycleState  string          `json:"lifecycleState"`
	SpecificContent specificContent `json:"specificContent"`
	Visibility      visibility      `json:"visibility"`
}

type specificContent struct {
	ShareContent shareContent `json:"com.linkedin.ugc.ShareContent"`
}

type shareContent struct {
	ShareCommentary    textBlock  `json:"shareCommentary"`
	ShareMediaCategory string     `json:"shareMediaCategory"`
	Media              []ugcMedia `json:"media,omitempty"`
}

type textBlock struct {
	Text string `json:"text"`
}

type ugcMedia struct {
	Status      string `json:"status"`
	OriginalURL string `json:"originalUrl"`
}

type visibility struct {
	MemberNetworkVisibility string `json:"com.linkedin.ugc.MemberNetworkVisibility"`
}

// buildUGCPost shapes a publish request into the ugcPosts wire format.
// Hashtags travel inside the commentary text, appended as "#tag" tokens
// after a blank line.
func buildUGCPost(req PublishRequest) ugcPost {
	post := ugcPost{
		Author:         req.MemberURN,
		LifecycleState: "PUBLISHED",
		SpecificContent: specificContent{
			ShareContent: shareContent{
				ShareCommentary:    textBlock{Text: ExpandHashtags(req.Body, req.Hashtags)},
				ShareMediaCategory: mediaCategory(req.Format, req.MediaURLs),
			},
		},
		Visibility: visibility{MemberNetworkVisibility: "PUBLIC"},
	}

	for _, mediaURL := range req.MediaURLs {
		post.SpecificContent.ShareContent.Media = append(post.SpecificContent.ShareContent.Media, ugcMedia{
			Status:      "READY",
			OriginalURL: mediaURL,
		})
	}

	return post
}

func mediaCategory(format enums.ContentFormat, mediaURLs []string) string {
	switch format {
	case enums.FormatArticle:
		return "ARTICLE"
	case enums.FormatCarousel:
		if len(mediaURLs) > 0 {
			return "IMAGE"
		}
		return "NONE"
	default:
		return "NONE"
	}
}

// ExpandHashtags appends hashtag tokens to the post body. Tags are stored
// without the leading "#"; duplicates and tags already present in the body
// are kept as-is, matching what the author previewed.
func ExpandHashtags(body string, hashtags []string) string {
	if len(hashtags) == 0 {
		return body
	}

	tokens := make([]string, 0, len(hashtags))
	for _, tag := range hashtags {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
		if tag == "" {
			continue
		}
		tokens = append(tokens, "#"+tag)
	}
	if len(tokens) == 0 {
		return body
	}

	return strings.TrimRight(body, "\n") + "\n\n" + strings.Join(tokens, " ")
}
