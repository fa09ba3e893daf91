package confluence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauern/confsync/internal/logging"
	"github.com/klauern/confsync/internal/model"
)

// UploadAttachment uploads a file or an in-memory byte buffer as a page
// attachment named name. Exactly one of path and data must be provided; an
// empty contentType is inferred from the name or path extension. When an
// attachment with the same name already exists and its stored size matches
// the local size, the upload is skipped unless force is set; otherwise the
// existing attachment gains a new version. Attachment upload is a
// classic-API endpoint on all deployments, so both adapters share this
// implementation.
func (s *Session) UploadAttachment(ctx context.Context, pageID, name, path string, data []byte, contentType, comment string, force bool) error {
	if (path == "") == (data == nil) {
		return argumentErrorf("expected: exactly one of attachment path and raw data")
	}

	var size int64
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("attachment source: %w", err)
		}
		size = info.Size()
	} else {
		size = int64(len(data))
	}

	existing, err := s.AttachmentByName(ctx, pageID, name)
	if err != nil && !errors.Is(err, ErrAttachmentNotFound) {
		return err
	}

	if existing != nil && !force && existing.FileSize == size {
		logging.Info("attachment unchanged, skipping upload",
			logging.Page(pageID),
			"name", name,
			"size", size,
		)
		return nil
	}

	if contentType == "" {
		contentType = attachmentContentType(name, path)
	}

	build := func(writer *multipart.Writer) error {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return err
		}
		if path != "" {
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("attachment source: %w", err)
			}
			defer func() { _ = file.Close() }()
			if _, err := io.Copy(part, file); err != nil {
				return fmt.Errorf("reading attachment %s: %w", path, err)
			}
		} else if _, err := part.Write(data); err != nil {
			return err
		}
		if comment != "" {
			if err := writer.WriteField("comment", comment); err != nil {
				return err
			}
		}
		return writer.WriteField("minorEdit", "true")
	}

	var uploaded attachmentV1
	if existing == nil {
		logging.Info("creating attachment", logging.Page(pageID), "name", name, "size", size)
		var response struct {
			Results []attachmentV1 `json:"results"`
		}
		endpoint := fmt.Sprintf("/content/%s/child/attachment", pageID)
		if err := s.client.PostForm(ctx, prefixV1, endpoint, build, &response); err != nil {
			return err
		}
		if len(response.Results) == 0 {
			return fmt.Errorf("attachment upload returned no results for %s", name)
		}
		uploaded = response.Results[0]
	} else {
		logging.Info("updating attachment",
			logging.Page(pageID),
			"name", name,
			"attachment_id", existing.ID,
			"size", size,
		)
		endpoint := fmt.Sprintf("/content/%s/child/attachment/%s/data", pageID, existing.ID)
		if err := s.client.PostForm(ctx, prefixV1, endpoint, build, &uploaded); err != nil {
			return err
		}
	}

	if uploaded.ID != "" && uploaded.Title != name {
		return s.renameAttachment(ctx, pageID, uploaded, name)
	}
	return nil
}

// renameAttachment restores the requested attachment title when the server
// stored a different one, e.g. after stripping path separators.
func (s *Session) renameAttachment(ctx context.Context, pageID string, attachment attachmentV1, title string) error {
	logging.Debug("restoring attachment title",
		logging.Page(pageID),
		"attachment_id", attachment.ID,
		logging.Title(title),
	)
	request := map[string]any{
		"id":      attachment.ID,
		"type":    "attachment",
		"status":  model.StatusCurrent,
		"title":   title,
		"version": map[string]any{"number": attachment.Version.Number + 1, "minorEdit": true},
	}
	endpoint := fmt.Sprintf("/content/%s/child/attachment/%s", pageID, attachment.ID)
	return s.client.Put(ctx, prefixV1, endpoint, request, nil)
}

// attachmentContentType infers a MIME type from the attachment name, falling
// back to the source path extension and finally to a binary default.
func attachmentContentType(name, path string) string {
	for _, candidate := range []string{name, path} {
		if candidate == "" {
			continue
		}
		ext := strings.ToLower(filepath.Ext(candidate))
		if contentType := mime.TypeByExtension(ext); contentType != "" {
			return contentType
		}
	}
	return "application/octet-stream"
}
