// Package tiletest holds fixtures shared by the package tests: encoded tile images, a quiet
// logger and an in-memory tile source.
package tiletest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"math/rand"
	"sync"

	"github.com/sirupsen/logrus"

	"sattiler/source"
	"sattiler/tile"
)

// HTMLPage 源还没准备好时返回的页面
const HTMLPage = "<!DOCTYPE html><html><head><title>Not ready</title></head><body>tile not available</body></html>"

// PNG 生成 size x size 的随机噪声 png, 同一个 seed 得到相同内容
func PNG(seed int64, size int) []byte {
	r := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{R: uint8(r.Intn(256)), G: uint8(r.Intn(256)), B: uint8(r.Intn(256)), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// SolidPNG 纯色 png, 体积很小
func SolidPNG(size int) []byte {
	img := image.NewUniform(color.RGBA{R: 10, G: 40, B: 120, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, &boundedImage{Uniform: img, size: size}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

type boundedImage struct {
	*image.Uniform
	size int
}

func (b *boundedImage) Bounds() image.Rectangle { return image.Rect(0, 0, b.size, b.size) }

// Logger 丢弃输出的 logger
func Logger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)
	return l
}

// Source 内存瓦片源, 记录每个坐标被请求的次数
type Source struct {
	mu      sync.Mutex
	tiles   map[tile.Coord]source.Response
	calls   map[tile.Coord]int
	Default func(c tile.Coord) (source.Response, error)
}

var _ source.Fetcher = (*Source)(nil)

// NewSource 默认对任意坐标返回有效 png
func NewSource() *Source {
	return &Source{
		tiles: make(map[tile.Coord]source.Response),
		calls: make(map[tile.Coord]int),
		Default: func(c tile.Coord) (source.Response, error) {
			return source.Response{Status: 200, Body: PNG(int64(c.Z*1000003+c.X*1009+c.Y), 32)}, nil
		},
	}
}

// Set 指定某坐标的响应
func (s *Source) Set(c tile.Coord, status int, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiles[c] = source.Response{Status: status, Body: body}
}

func (s *Source) Fetch(ctx context.Context, c tile.Coord) (source.Response, error) {
	s.mu.Lock()
	s.calls[c]++
	resp, ok := s.tiles[c]
	s.mu.Unlock()
	if ok {
		return resp, nil
	}
	return s.Default(c)
}

// Calls 某坐标被请求的次数
func (s *Source) Calls(c tile.Coord) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[c]
}

// TotalCalls 请求总数
func (s *Source) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}
