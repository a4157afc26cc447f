package utils

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"
)

func NewBoundary() string {
	var b [8]byte
	rand.Read(b[:])
	return "Boundary+" + hex.EncodeToString(b[:])
}

// BuildMultipartBody writes file parts, then parameter parts in key order, then
// the closing delimiter.
func BuildMultipartBody(boundary string, files []FormFile, params map[string]string) []byte {
	var body bytes.Buffer
	for _, f := range files {
		contentType := f.ContentType
		if contentType == "" {
			contentType = ContentTypeOctet
		}
		fmt.Fprintf(&body, "--%s\r\n", boundary)
		fmt.Fprintf(&body, "Content-Disposition: form-data; name=\"%s\"; filename=\"%s\"\r\n", f.Name, f.FileName)
		fmt.Fprintf(&body, "Content-Type: %s\r\n\r\n", contentType)
		body.Write(f.Data)
		body.WriteString("\r\n")
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&body, "--%s\r\n", boundary)
		fmt.Fprintf(&body, "Content-Disposition: form-data; name=\"%s\"\r\n\r\n", k)
		body.WriteString(params[k])
		body.WriteString("\r\n")
	}
	fmt.Fprintf(&body, "--%s--\r\n", boundary)
	return body.Bytes()
}
