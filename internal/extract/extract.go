package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	MimePDF  = "application/pdf"
	MimeOFD  = "application/ofd"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeZIP  = "application/zip"
)

var extensions = map[string]string{
	MimePDF:              "pdf",
	MimeOFD:              "ofd",
	MimeDOCX:             "docx",
	MimeZIP:              "zip",
	"application/msword": "doc",
	"image/jpeg":         "jpg",
	"image/png":          "png",
}

// Info describes a downloaded document.
type Info struct {
	MimeType  string
	Extension string
	// Pages is zero when the format has no page count we can read.
	Pages int
}

// Inspect identifies a payload from its leading bytes, falling back to the declared
// content type and then the file name.
func Inspect(data []byte, contentType, fileName string) Info {
	mime := sniff(data)
	if mime == "" {
		mime = normalizeMimeType(contentType)
	}
	if mime == "" || mime == "application/octet-stream" {
		if byExt := mimeFromName(fileName); byExt != "" {
			mime = byExt
		}
	}
	if mime == "" {
		mime = normalizeMimeType(http.DetectContentType(data))
	}

	info := Info{MimeType: mime, Extension: extensions[mime]}
	if info.Extension == "" {
		info.Extension = strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	}
	if info.Extension == "" {
		info.Extension = "bin"
	}
	if mime == MimePDF {
		if pages, err := PageCount(data); err == nil {
			info.Pages = pages
		}
	}
	return info
}

// PageCount reads the page tree of a PDF.
func PageCount(data []byte) (pages int, err error) {
	if len(data) == 0 {
		return 0, errors.New("empty pdf data")
	}
	// The parser panics on some malformed trailers.
	defer func() {
		if r := recover(); r != nil {
			pages, err = 0, errors.New("malformed pdf")
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return reader.NumPage(), nil
}

func sniff(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return MimePDF
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return mapZip(data)
	default:
		return ""
	}
}

// mapZip tells OFD and OOXML containers apart from plain archives.
func mapZip(data []byte) string {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return MimeZIP
	}
	for _, f := range zr.File {
		name := strings.ReplaceAll(f.Name, "\\", "/")
		switch {
		case strings.EqualFold(name, "OFD.xml"):
			return MimeOFD
		case name == "word/document.xml":
			return MimeDOCX
		}
	}
	return MimeZIP
}

func normalizeMimeType(mimeType string) string {
	return strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
}

func mimeFromName(fileName string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	if ext == "" {
		ext = strings.ToLower(strings.TrimSpace(fileName))
	}
	for mime, e := range extensions {
		if e == ext {
			return mime
		}
	}
	return ""
}
