package linkedin

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/postpilot-hq/postpilot-backend/pkg/enums"
)

func TestExpandHashtags(t *testing.T) {
	assert.Equal(t, "plain body", ExpandHashtags("plain body", nil))
	assert.Equal(t, "body\n\n#golang #backend", ExpandHashtags("body", []string{"golang", "backend"}))
	assert.Equal(t, "body\n\n#golang", ExpandHashtags("body\n", []string{"#golang"}))
	assert.Equal(t, "body", ExpandHashtags("body", []string{" ", "#"}))
}

func TestBuildUGCPost(t *testing.T) {
	post := buildUGCPost(PublishRequest{
		MemberURN: "urn:li:person:abc",
		Body:      "check this out",
		Format:    enums.FormatCarousel,
		Hashtags:  []string{"launch"},
		MediaURLs: []string{"https://example.com/a.png", "https://example.com/b.png"},
	})

	assert.Equal(t, "urn:li:person:abc", post.Author)
	assert.Equal(t, "PUBLISHED", post.LifecycleState)
	assert.Equal(t, "PUBLIC", post.Visibility.MemberNetworkVisibility)
	assert.Equal(t, "check this out\n\n#launch", post.SpecificContent.ShareContent.ShareCommentary.Text)
	assert.Equal(t, "IMAGE", post.SpecificContent.ShareContent.ShareMediaCategory)

	media := post.SpecificContent.ShareContent.Media
	assert.Len(t, media, 2)
	assert.Equal(t, "READY", media[0].Status)
	assert.Equal(t, "https://example.com/a.png", media[0].OriginalURL)
}

func TestMediaCategory(t *testing.T) {
	assert.Equal(t, "NONE", mediaCategory(enums.FormatText, nil))
	assert.Equal(t, "ARTICLE", mediaCategory(enums.FormatArticle, nil))
	assert.Equal(t, "IMAGE", mediaCategory(enums.FormatCarousel, []string{"https://example.com/a.png"}))
	assert.Equal(t, "NONE", mediaCategory(enums.FormatCarousel, nil))
	assert.Equal(t, "NONE", mediaCategory(enums.FormatPoll, nil))
}
