package mailbox

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// DefaultExtensions are the attachment types picked up by default.
var DefaultExtensions = []string{".pdf", ".doc", ".docx"}

// Attachment is one accepted file from a message.
type Attachment struct {
	Filename string
	Data     []byte
}

// Filter decides which message parts are attachments worth ingesting.
type Filter struct {
	accepted map[string]struct{}
}

// NewFilter accepts the given extensions, case-insensitively. An empty list
// means DefaultExtensions.
func NewFilter(extensions []string) Filter {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	f := Filter{accepted: make(map[string]struct{}, len(extensions))}
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		f.accepted[ext] = struct{}{}
	}
	return f
}

// Accepts reports whether a part with this disposition and filename passes.
// Only explicit attachments with a non-empty name and an accepted extension do.
func (f Filter) Accepts(disposition, filename string) bool {
	if !strings.EqualFold(disposition, "attachment") {
		return false
	}
	if strings.TrimSpace(filename) == "" {
		return false
	}
	_, ok := f.accepted[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Extract walks a raw RFC 5322 message and returns the accepted attachments
// in message order. skipped counts attachment parts that were filtered out.
func (f Filter) Extract(r io.Reader) (attachments []Attachment, skipped int, err error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, 0, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return attachments, skipped, fmt.Errorf("read part: %w", err)
		}

		h, ok := p.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}
		disposition, _, _ := h.ContentDisposition()
		filename, _ := h.Filename()
		if !f.Accepts(disposition, filename) {
			if disposition != "" || filename != "" {
				skipped++
			}
			continue
		}

		data, err := io.ReadAll(p.Body)
		if err != nil {
			return attachments, skipped, fmt.Errorf("read attachment %s: %w", filename, err)
		}
		attachments = append(attachments, Attachment{Filename: filename, Data: data})
	}
	return attachments, skipped, nil
}
