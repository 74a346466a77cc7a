package device

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/medflow/intake-capture/internal/capture/domain"
)

// FolderSource treats a hot folder as a camera: the newest JPEG or PNG
// written there by a document camera or scanner is the live frame.
type FolderSource struct {
	dir string
}

// NewFolderSource creates a source watching dir
func NewFolderSource(dir string) *FolderSource {
	return &FolderSource{dir: dir}
}

func (s *FolderSource) Name() string { return "folder:" + s.dir }

func (s *FolderSource) Facings() []domain.Facing {
	return []domain.Facing{domain.FacingEnvironment, domain.FacingUser}
}

// Open checks that the folder exists and is listable
func (s *FolderSource) Open(ctx context.Context, c domain.Constraints) (Stream, error) {
	info, err := os.Stat(s.dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, domain.DeviceError(domain.KindDeviceNotFound, s.dir+" is not a directory", nil)
	}
	f, err := os.Open(s.dir)
	if err != nil {
		return nil, err
	}
	f.Close()
	return &folderStream{dir: s.dir}, nil
}

type folderStream struct {
	dir string

	mu      sync.Mutex
	path    string
	modTime time.Time
	frame   image.Image
}

// Frame decodes the newest image file; a file still unchanged since the
// last call is served from cache
func (f *folderStream) Frame() (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path, modTime, err := newestImage(f.dir)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}
	if path == f.path && modTime.Equal(f.modTime) && f.frame != nil {
		return f.frame, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		// a file being written is skipped until complete
		return f.frame, nil
	}

	f.path, f.modTime, f.frame = path, modTime, img
	return img, nil
}

func (f *folderStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frame = nil
	return nil
}

func newestImage(dir string) (string, time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", time.Time{}, err
	}

	var newest string
	var newestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !isImageFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = filepath.Join(dir, e.Name())
			newestMod = info.ModTime()
		}
	}
	return newest, newestMod, nil
}

func isImageFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}
