package utils

// BatchEntry is one line of a batch file.
type BatchEntry struct {
	OutputPath string `yaml:"op"`
	URL        string `yaml:"link"`
}

type BatchFile struct {
	Links []BatchEntry `yaml:"links"`
}

// FormFile is one file part of a multipart upload.
type FormFile struct {
	Name        string
	FileName    string
	ContentType string
	Data        []byte
}
