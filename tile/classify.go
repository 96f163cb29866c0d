package tile

import (
	"bytes"
	"image"
	_ "image/gif"  // register gif decoder
	_ "image/jpeg" // register jpeg decoder
	_ "image/png"  // register png decoder

	_ "golang.org/x/image/webp" // register webp decoder
)

// Class 瓦片数据分类
type Class int

const (
	// Valid 可解码的图片
	Valid Class = iota
	// Placeholder 源返回的 HTML 错误页
	Placeholder
	// Corrupt 无法解码
	Corrupt
	// Empty 零字节
	Empty
	// Unavailable 源返回非 200 状态
	Unavailable
)

var htmlMarkers = [][]byte{[]byte("<!doctype"), []byte("<html"), []byte("doctype html")}

func (c Class) String() string {
	switch c {
	case Valid:
		return "valid"
	case Placeholder:
		return "html"
	case Corrupt:
		return "corrupt"
	case Empty:
		return "empty"
	case Unavailable:
		return "unavailable"
	}
	return "unknown"
}

// Err 跳过原因, Valid 返回 nil
func (c Class) Err() error {
	switch c {
	case Valid:
		return nil
	case Placeholder:
		return ErrPlaceholder
	case Unavailable:
		return ErrUnavailable
	}
	return ErrCorruptPayload
}

// Classify 判断数据是有效图片、HTML 占位页还是损坏数据
func Classify(data []byte) Class {
	if len(data) == 0 {
		return Empty
	}
	if HasHTMLMarker(data) {
		return Placeholder
	}
	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		return Corrupt
	}
	return Valid
}

// HasHTMLMarker 是否包含 HTML 文档标记
func HasHTMLMarker(data []byte) bool {
	// 只看开头, 图片数据里偶然出现的字节不算
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	head = bytes.ToLower(head)
	for _, m := range htmlMarkers {
		if bytes.Contains(head, m) {
			return true
		}
	}
	return false
}

// Format 根据文件头识别瓦片格式
func Format(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return PNG
	case bytes.HasPrefix(data, []byte("\xff\xd8\xff")):
		return JPG
	case bytes.HasPrefix(data, []byte("GIF8")):
		return GIF
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return WEBP
	case bytes.HasPrefix(data, []byte("\x1f\x8b")):
		return PBF
	}
	return ""
}
