package utils

const (
	DefaultUserAgent  = "splitfetch/1.0"
	DefaultBufferSize = 32 * 1024 // per-read chunk handed to the coordinator
	socketBufferSize  = 1024 * 1024

	DefaultStreamFragments = 10
)

const (
	ContentTypeMultipart = "multipart/form-data; boundary="
	ContentTypeOctet     = "application/octet-stream"
)

const CheckpointDir = ".splitfetch-checkpoints"
