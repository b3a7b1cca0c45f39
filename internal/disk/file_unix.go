//go:build linux || darwin

package disk

import (
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"diskdb/internal/page"
)

// growthSize is the chunk size the mmap region grows by, rounded up to
// reduce remap frequency.
const growthSize = 64 * 1024 * 1024

// FileManager is a memory-mapped Manager backed by a single file.
// Growth remaps the file in growthSize chunks rather than
// page-at-a-time.
type FileManager struct {
	mu     sync.Mutex
	file   *os.File
	data   []byte
	size   int64
	nextID atomic.Uint32
	closed bool
}

// NewFileManager opens (creating if necessary) a memory-mapped page file.
func NewFileManager(path string) (*FileManager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	size := info.Size()
	var numPages uint32
	if size == 0 {
		size = growthSize
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		numPages = uint32(size / page.Size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}

	fm := &FileManager{file: f, data: data, size: size}
	fm.nextID.Store(numPages)
	return fm, nil
}

func (fm *FileManager) ReadPage(id page.ID, dst *page.Page) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.closed {
		return ErrClosed
	}
	off := int64(id) * page.Size
	if off+page.Size > fm.size {
		dst.Zero()
		dst.Header().ID = id
		return nil
	}
	copy(dst.Data[:], fm.data[off:off+page.Size])
	return nil
}

func (fm *FileManager) WritePage(id page.ID, src *page.Page) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.closed {
		return ErrClosed
	}
	off := int64(id) * page.Size
	if off+page.Size > fm.size {
		if err := fm.growLocked(off + page.Size); err != nil {
			return err
		}
	}
	copy(fm.data[off:off+page.Size], src.Data[:])
	return nil
}

// growLocked remaps the file to hold at least minSize bytes. Caller must
// hold fm.mu.
func (fm *FileManager) growLocked(minSize int64) error {
	newSize := ((minSize + growthSize - 1) / growthSize) * growthSize

	_ = unix.Msync(fm.data, unix.MS_ASYNC)
	if err := unix.Munmap(fm.data); err != nil {
		return err
	}
	if err := fm.file.Truncate(newSize); err != nil {
		return err
	}
	data, err := unix.Mmap(int(fm.file.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	fm.data = data
	fm.size = newSize
	return nil
}

func (fm *FileManager) AllocatePage() (page.ID, error) {
	return page.ID(fm.nextID.Add(1) - 1), nil
}

func (fm *FileManager) Sync() error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if err := unix.Msync(fm.data, unix.MS_SYNC); err != nil {
		return err
	}
	return fm.file.Sync()
}

func (fm *FileManager) Close() error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.closed {
		return nil
	}
	fm.closed = true
	if fm.data != nil {
		if err := unix.Munmap(fm.data); err != nil {
			return err
		}
		fm.data = nil
	}
	return fm.file.Close()
}
