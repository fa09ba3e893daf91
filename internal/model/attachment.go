package model

import "time"

// AttachmentLinks holds navigation links for an attachment.
type AttachmentLinks struct {
	WebUI    string `json:"webui,omitempty"`
	Download string `json:"download,omitempty"`
}

// Attachment holds data for an object uploaded to Confluence as a page
// attachment. Identity is the pair (PageID, unprefixed filename): uploading
// with the same filename either creates version 1 or increments the existing
// attachment's version.
type Attachment struct {
	ID                   string         `json:"id"`
	Status               Status         `json:"status"`
	Title                string         `json:"title,omitempty"`
	CreatedAt            time.Time      `json:"createdAt,omitzero"`
	PageID               string         `json:"pageId"`
	MediaType            string         `json:"mediaType"`
	MediaTypeDescription string         `json:"mediaTypeDescription,omitempty"`
	Comment              string         `json:"comment,omitempty"`
	FileID               string         `json:"fileId"`
	FileSize             int64          `json:"fileSize"`
	WebUILink            string         `json:"webuiLink,omitempty"`
	DownloadLink         string         `json:"downloadLink,omitempty"`
	Version              ContentVersion `json:"version"`
}
