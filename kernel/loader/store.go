package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zjuxlh1993/15410-1/kernel/sync"
)

// ImageExt is the file extension of program images loaded from disk.
const ImageExt = ".elf"

// ImageStore is the read-only table of program images the loader can run.
type ImageStore struct {
	lock   sync.Spinlock
	images map[string][]byte
}

// NewImageStore returns an empty image store.
func NewImageStore() *ImageStore {
	return &ImageStore{images: make(map[string][]byte)}
}

// Add registers image under name, replacing any previous image.
func (s *ImageStore) Add(name string, image []byte) {
	s.lock.Acquire()
	s.images[name] = image
	s.lock.Release()
}

// Has returns true if an image called name exists.
func (s *ImageStore) Has(name string) bool {
	s.lock.Acquire()
	_, ok := s.images[name]
	s.lock.Release()
	return ok
}

// ReadBytes copies up to length bytes of the named image, starting at
// offset, into buf. It returns the number of bytes copied or -1 if the image
// does not exist or offset lies outside of it.
func (s *ImageStore) ReadBytes(name string, offset, length int, buf []byte) int {
	s.lock.Acquire()
	defer s.lock.Release()

	image, ok := s.images[name]
	if !ok || offset < 0 || offset >= len(image) {
		return -1
	}

	if rem := len(image) - offset; length > rem {
		length = rem
	}
	if length > len(buf) {
		length = len(buf)
	}

	return copy(buf[:length], image[offset:])
}

// Names returns the sorted list of image names.
func (s *ImageStore) Names() []string {
	s.lock.Acquire()
	names := make([]string, 0, len(s.images))
	for name := range s.images {
		names = append(names, name)
	}
	s.lock.Release()

	sort.Strings(names)
	return names
}

// LoadDir adds every *.elf file found in dir, named after the file without
// its extension. It returns the number of images added.
func (s *ImageStore) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading image directory: %w", err)
	}

	var count int
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ImageExt {
			continue
		}

		image, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return count, fmt.Errorf("reading image %s: %w", entry.Name(), err)
		}

		s.Add(strings.TrimSuffix(entry.Name(), ImageExt), image)
		count++
	}

	return count, nil
}
