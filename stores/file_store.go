package stores

import (
	"bufio"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/segmentio/ksuid"
	cst "pinboard.io/pinboard/constants"
	se "pinboard.io/pinboard/errors"
)

// FileStore stores the image binaries behind pins
// (note a file is just a byte sequence)
type FileStore interface {
	// Ref returns a fresh reference for a file about to be stored, keyed by a generated name
	// which keeps the uploader's extension
	Ref(filename string) string
	Save(ref string, r io.Reader) *se.Err
	Get(ref string) (io.ReadCloser, *se.Err)
	// Delete deletes the image binary from store. Delete must be idempotent
	Delete(ref string) *se.Err
	Close() *se.Err
}

// LocalFileStore implements FileStore backed by local file system
type LocalFileStore struct {
	Dir         string
	MaxSizeByte int64
}

var extPattern = regexp.MustCompile(`^\.[a-zA-Z0-9]{1,8}$`)

func (fs *LocalFileStore) Ref(filename string) string {
	ref := ksuid.New().String()
	if ext := strings.ToLower(filepath.Ext(filename)); extPattern.MatchString(ext) {
		ref += ext
	}
	return ref
}

func (fs *LocalFileStore) Save(ref string, r io.Reader) *se.Err {
	// 1. prepare file to host data
	errMsg := "error allocating file storage space"
	if err := os.MkdirAll(fs.Dir, 0755); err != nil {
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	f, err := os.Create(fs.path(ref))
	if err != nil {
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	defer f.Close()
	// 2. pipe data to file
	br := bufio.NewReader(http.MaxBytesReader(nil, ioutil.NopCloser(r), fs.MaxSizeByte))
	if _, err := br.WriteTo(f); err != nil {
		if strings.Index(err.Error(), cst.ErrMsgRequestBodyTooLarge) >= 0 {
			return se.NewBadInput("image oversized").WithCause(err)
		}
		return se.NewServiceFailure("error saving image data").WithCause(err)
	}
	return nil
}

func (fs *LocalFileStore) Get(ref string) (io.ReadCloser, *se.Err) {
	f, err := os.Open(fs.path(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, se.NewNotFound("image not found").WithCause(err)
		}
		return nil, se.NewServiceFailure("error retrieving image")
	}
	return f, nil
}

func (fs *LocalFileStore) Delete(ref string) *se.Err {
	if err := os.Remove(fs.path(ref)); err != nil && !os.IsNotExist(err) {
		return se.NewServiceFailure("error removing image").WithCause(err)
	}
	return nil
}

func (fs *LocalFileStore) Close() *se.Err {
	return nil
}

// path confines the ref to the store directory
func (fs *LocalFileStore) path(ref string) string {
	return filepath.Join(fs.Dir, filepath.Base(ref))
}
