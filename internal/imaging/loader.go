package imaging

import (
	"bytes"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"
	"sync"

	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder (flatbed scanners)
	_ "golang.org/x/image/webp" // Register WebP format decoder (phone uploads)

	"github.com/ironsheep/omr-grader-mcp/internal/omrerr"
)

// ImageCache provides thread-safe caching of decoded sheet images keyed by
// file path, so repeated tool calls on the same photo avoid disk reads.
//
// An MCP client typically calls omr_detect_marks or omr_render_overlay on a
// photo before committing it with omr_process_sheet; the cache lets those
// calls share one decode.
//
// ImageCache is safe for concurrent use by multiple goroutines.
//
// # Memory Management
//
// Cached images remain in memory until removed via Evict() or Clear().
// Processing a sheet evicts its photo, so a long-running server only holds
// images that were inspected but never graded.
//
// # Example Usage
//
//	cache := imaging.NewImageCache()
//	img, err := cache.Load("/scans/quiz-7/0001.jpg")
//	if err != nil {
//	    return err
//	}
//	// Normalize and detect...
//	cache.Evict("/scans/quiz-7/0001.jpg")
type ImageCache struct {
	mu     sync.RWMutex
	images map[string]image.Image
}

// NewImageCache creates and initializes a new empty image cache.
//
// The returned cache is ready for immediate use and is safe for concurrent access.
func NewImageCache() *ImageCache {
	return &ImageCache{
		images: make(map[string]image.Image),
	}
}

// Load retrieves an image from the cache or decodes it from disk if not cached.
//
// Parameters:
//   - path: Absolute or relative file path to the sheet photo. Supported
//     formats are PNG, JPEG, GIF, BMP, TIFF and WebP.
//
// Returns:
//   - image.Image: The decoded image. The concrete type depends on the format
//     and color model (e.g., *image.RGBA, *image.YCbCr, *image.Gray).
//   - error: Non-nil if the file cannot be opened or decoded.
//
// The image is cached under the exact path string provided. Different paths
// to the same file (e.g., relative vs absolute) produce separate entries.
//
// # Errors
//
//   - InvalidInput if the file does not exist or cannot be read
//   - ImageUnusable if the file is not a decodable image
func (c *ImageCache) Load(path string) (image.Image, error) {
	c.mu.RLock()
	if img, ok := c.images[path]; ok {
		c.mu.RUnlock()
		return img, nil
	}
	c.mu.RUnlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, omrerr.Wrap(omrerr.KindInvalidInput, err, "cannot open image")
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, omrerr.Wrap(omrerr.KindImageUnusable, err, "cannot decode image")
	}

	c.mu.Lock()
	c.images[path] = img
	c.mu.Unlock()

	return img, nil
}

// Has reports whether an image is currently cached under path.
func (c *ImageCache) Has(path string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.images[path]
	return ok
}

// Len returns the number of cached images.
func (c *ImageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}

// Clear removes all images from the cache.
//
// This releases memory held by all cached images. Subsequent Load() calls
// will read from disk.
func (c *ImageCache) Clear() {
	c.mu.Lock()
	c.images = make(map[string]image.Image)
	c.mu.Unlock()
}

// Evict removes a specific image from the cache by its path.
//
// Parameters:
//   - path: The exact path string used when the image was loaded.
//
// If the path is not in the cache, Evict does nothing.
func (c *ImageCache) Evict(path string) {
	c.mu.Lock()
	delete(c.images, path)
	c.mu.Unlock()
}

// Decode decodes an uploaded image held in memory.
//
// Parameters:
//   - data: The raw upload bytes in any registered format.
//
// Returns:
//   - image.Image: The decoded image.
//   - string: The format name ("png", "jpeg", "webp", ...).
//   - error: Non-nil if the upload is empty or undecodable.
//
// # Errors
//
//   - ImageUnusable for an empty or corrupt upload. From the caller's
//     perspective a corrupt upload is a capture problem.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", omrerr.New(omrerr.KindImageUnusable, "empty image upload")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", omrerr.Wrap(omrerr.KindImageUnusable, err, "cannot decode image")
	}
	return img, format, nil
}
