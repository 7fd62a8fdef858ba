package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ConvertType selects the downstream stage after research.
type ConvertType string

const (
	// ConvertDesign produces per-slide HTML files and converts them to a deck.
	ConvertDesign ConvertType = "design"
	// ConvertDeck produces a single presentation file directly.
	ConvertDeck ConvertType = "deck"
)

// DeckFormat is the requested presentation geometry.
type DeckFormat string

const (
	FormatWidescreen DeckFormat = "16:9 Widescreen"
	FormatStandard   DeckFormat = "4:3 Standard"
	FormatPoster     DeckFormat = "A1 Poster (Single Page)"
)

// AspectRatio maps the deck format to the renderer's aspect keyword.
func (f DeckFormat) AspectRatio() (string, error) {
	switch f {
	case FormatWidescreen:
		return "widescreen", nil
	case FormatStandard:
		return "normal", nil
	case FormatPoster:
		return "A1", nil
	default:
		return "", fmt.Errorf("unknown deck format %q", string(f))
	}
}

// InputRequest is the originating user request for one run.
type InputRequest struct {
	Instruction string         `json:"instruction"`
	Attachments []string       `json:"attachments,omitempty"`
	NumPages    string         `json:"num_pages,omitempty"`
	Template    string         `json:"template,omitempty"`
	DeckFormat  DeckFormat     `json:"deck_format,omitempty"`
	ConvertType ConvertType    `json:"convert_type,omitempty"`
	ExtraInfo   map[string]any `json:"extra_info,omitempty"`
}

// TaskID derives a stable 8-hex identifier from the instruction and
// attachment list.
func (r InputRequest) TaskID() string {
	sum := md5.Sum([]byte(r.Instruction + strings.Join(r.Attachments, "")))
	return hex.EncodeToString(sum[:])[:8]
}

// ResearchPrompt builds the research stage's first-turn prompt, appending
// page count, attachments, and deck format only when the instruction does not
// already mention them.
func (r InputRequest) ResearchPrompt() string {
	parts := []string{r.Instruction}
	if r.NumPages != "" && !strings.Contains(r.Instruction, r.NumPages) {
		parts = append(parts, "Number of pages: "+r.NumPages)
	}
	if len(r.Attachments) > 0 && !r.allAttachmentsMentioned() {
		parts = append(parts, "Attachments: "+strings.Join(r.Attachments, ", "))
	}
	if r.DeckFormat != "" && !strings.Contains(r.Instruction, string(r.DeckFormat)) {
		parts = append(parts, "PPT format: "+string(r.DeckFormat))
	}
	return strings.Join(parts, "\n")
}

// DeckPrompt builds the direct deck stage's prompt.
func (r InputRequest) DeckPrompt() string {
	parts := []string{r.Instruction}
	if r.Template != "" && !strings.Contains(r.Instruction, r.Template) {
		parts = append(parts, "PPT Template: "+r.Template)
	}
	if r.NumPages != "" && !strings.Contains(r.Instruction, r.NumPages) {
		parts = append(parts, "Number of pages: "+r.NumPages)
	}
	return strings.Join(parts, "\n")
}

// DesignPrompt builds the slide design stage's prompt.
func (r InputRequest) DesignPrompt() string {
	parts := []string{r.Instruction}
	if r.DeckFormat != "" && !strings.Contains(r.Instruction, string(r.DeckFormat)) {
		parts = append(parts, "PPT format: "+string(r.DeckFormat))
	}
	return strings.Join(parts, "\n")
}

func (r InputRequest) allAttachmentsMentioned() bool {
	for _, a := range r.Attachments {
		if !strings.Contains(r.Instruction, a) {
			return false
		}
	}
	return true
}

// CopyToWorkspace copies every attachment into workspace/attachments and
// rewrites the attachment paths to point at the copies.
func (r *InputRequest) CopyToWorkspace(workspace string) error {
	if len(r.Attachments) == 0 {
		return nil
	}
	dir := filepath.Join(workspace, "attachments")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WrapOp("create attachments dir", err)
	}
	rewritten := make([]string, 0, len(r.Attachments))
	for _, att := range r.Attachments {
		dest := filepath.Join(dir, filepath.Base(att))
		if err := copyFile(att, dest); err != nil {
			return WrapOp("copy attachment", err)
		}
		rewritten = append(rewritten, dest)
	}
	r.Attachments = rewritten
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
