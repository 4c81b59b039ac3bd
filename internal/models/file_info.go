package models

import "time"

// FileStatus is the lifecycle state of an uploaded drawing.
type FileStatus string

const (
	FileStatusUploaded FileStatus = "uploaded"
	FileStatusParsing  FileStatus = "parsing"
	FileStatusParsed   FileStatus = "parsed"
	FileStatusError    FileStatus = "error"
)

// DrawingFile represents metadata about an uploaded floor-plan file.
type DrawingFile struct {
	ID         string     `json:"id"`
	SiteID     int64      `json:"siteId,omitempty"`
	Name       string     `json:"name"`
	Size       int64      `json:"size"`
	UploadedAt time.Time  `json:"uploadedAt"`
	Status     FileStatus `json:"status"`
}
