package imagecache

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	// 注册上游常见的图片格式解码器。
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/shelfkeeper/photocache/internal/config"
)

// ErrDecode 表示字节已取回但无法解码为图片；此类结果不写入任何缓存层。
var ErrDecode = errors.New("image decode failed")

// bytesPerPixel 按 RGBA 估算内存占用。
const bytesPerPixel = 4

// Image 是缓存中的解码结果，内存层直接持有，磁盘层保存其 JPEG 编码。
// 编码结果按质量缓存在 Image 上，写盘与 HTTP 响应共用同一份字节。
type Image struct {
	Bitmap image.Image
	Format string
	Width  int
	Height int

	mu          sync.Mutex
	jpeg        []byte
	jpegQuality int
}

func newImage(bitmap image.Image, format string) *Image {
	bounds := bitmap.Bounds()
	return &Image{
		Bitmap: bitmap,
		Format: format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}
}

// Cost 返回解码位图的近似字节成本，用于内存层的容量预算。
func (i *Image) Cost() int64 {
	if i == nil {
		return 0
	}
	return int64(i.Width) * int64(i.Height) * bytesPerPixel
}

// Decode 将原始字节解码为 Image；失败时返回包装 ErrDecode 的错误。
// 解码前先读取图片头，像素数超过 maxPixels（<=0 时取默认值）的图片直接拒绝，
// 避免极小的文件声明巨大尺寸而在解码时一次性申请数 GB 内存。
func Decode(data []byte, maxPixels int64) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrDecode)
	}
	if maxPixels <= 0 {
		maxPixels = config.DefaultMaxImagePixels
	}
	header, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if header.Width <= 0 || header.Height <= 0 {
		return nil, fmt.Errorf("%w: empty bounds", ErrDecode)
	}
	if pixels := int64(header.Width) * int64(header.Height); pixels > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, header.Width, header.Height, maxPixels)
	}

	bitmap, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	img := newImage(bitmap, format)
	if img.Width <= 0 || img.Height <= 0 {
		return nil, fmt.Errorf("%w: empty bounds", ErrDecode)
	}
	return img, nil
}

// EncodeJPEG 以给定质量（1-100）将图片压缩为 JPEG，供磁盘层与 HTTP 响应使用。
func EncodeJPEG(img *Image, quality int) ([]byte, error) {
	if img == nil || img.Bitmap == nil {
		return nil, errors.New("encode jpeg: nil image")
	}
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img.Bitmap, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// JPEG 返回按 quality 编码的字节；同一质量只编码一次，结果在后续调用间复用。
func (i *Image) JPEG(quality int) ([]byte, error) {
	if i == nil {
		return EncodeJPEG(nil, quality)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.jpeg != nil && i.jpegQuality == quality {
		return i.jpeg, nil
	}
	data, err := EncodeJPEG(i, quality)
	if err != nil {
		return nil, err
	}
	i.jpeg, i.jpegQuality = data, quality
	return data, nil
}

// withJPEG 记录已知的编码字节（如磁盘层读出的文件），免去再次编码。
func (i *Image) withJPEG(data []byte, quality int) *Image {
	i.mu.Lock()
	i.jpeg, i.jpegQuality = data, quality
	i.mu.Unlock()
	return i
}
