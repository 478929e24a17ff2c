package img

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store writes uploaded and cropped images below Dir and hands out the URL
// they are served under.
type Store struct {
	Dir       string
	URLPrefix string
	now       func() time.Time
}

func NewStore(dir, urlPrefix string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Store{Dir: dir, URLPrefix: strings.TrimRight(urlPrefix, "/"), now: time.Now}, nil
}

// Save writes data as <prefix>_<timestamp>_<id><ext> and returns its URL.
// PNG forces the .png extension, used for server-side crops.
func (s *Store) Save(prefix, origName string, data []byte, png bool) (string, error) {
	ext := strings.ToLower(filepath.Ext(origName))
	if png || ext == "" {
		ext = ".png"
	}
	ts := s.now().UTC()
	name := fmt.Sprintf("%s_%s%06d_%s%s", prefix, ts.Format("20060102150405"), ts.Nanosecond()/1000, uuid.New().String()[:8], ext)
	if err := os.WriteFile(filepath.Join(s.Dir, name), data, 0644); err != nil {
		return "", err
	}
	return s.URLPrefix + "/" + name, nil
}

// Path maps a URL returned by Save back to its file, or "" when the URL is
// not one of ours.
func (s *Store) Path(url string) string {
	if !strings.HasPrefix(url, s.URLPrefix+"/") {
		return ""
	}
	name := path.Base(url)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return filepath.Join(s.Dir, name)
}

// Remove deletes the file behind url; missing files are not an error.
func (s *Store) Remove(url string) error {
	p := s.Path(url)
	if p == "" {
		return nil
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
