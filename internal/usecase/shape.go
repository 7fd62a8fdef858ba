package usecase

import (
	"encoding/base64"
	"strings"

	"presenter-ai/internal/domain"
)

// adaptObservation reshapes a tool observation for backend quirks before it
// enters the conversation. Gemini-compatible endpoints reject image content in
// tool-role messages, so those become user messages naming the tool. Claude
// endpoints reject data URIs and want structured base64 source blocks.
func adaptObservation(msg domain.Message, family domain.BackendFamily) domain.Message {
	switch family {
	case domain.FamilyGemini:
		if msg.Role == domain.RoleTool && msg.HasImage() {
			blocks := []domain.ContentBlock{
				domain.TextBlock("Result of tool call `" + msg.FromTool + "`:"),
			}
			blocks = append(blocks, msg.Content...)
			msg.Role = domain.RoleUser
			msg.Content = blocks
			msg.ToolCallID = ""
		}
	case domain.FamilyClaude:
		for i, b := range msg.Content {
			if b.Type == domain.BlockImageURL && b.ImageURL != nil {
				if source, ok := dataURIToSource(b.ImageURL.URL); ok {
					msg.Content[i] = domain.ContentBlock{
						Type:   domain.BlockImage,
						Source: source,
					}
				}
			}
		}
	}
	return msg
}

// dataURIToSource splits a "data:<media>;base64,<payload>" URI into the
// structured source block. Remote URLs pass through untouched.
func dataURIToSource(uri string) (*domain.ImageSource, bool) {
	if !strings.HasPrefix(uri, "data:") {
		return nil, false
	}
	rest := uri[len("data:"):]
	sep := strings.Index(rest, ";base64,")
	if sep < 0 {
		return nil, false
	}
	mediaType := rest[:sep]
	payload := rest[sep+len(";base64,"):]
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return nil, false
	}
	return &domain.ImageSource{
		Type:      "base64",
		MediaType: mediaType,
		Data:      payload,
	}, true
}
