package model

// FileMetadata describes one uploaded attachment.
type FileMetadata struct {
	FileID      string `json:"fileId"`
	FileName    string `json:"originalFileName"`
	FileSize    int64  `json:"fileSize"`
	FileType    string `json:"fileType"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}
