package kmeridx

import (
	"io/ioutil"
	"os"

	"golang.org/x/sys/unix"
)

// mmapFile maps the file read-only. The mapping stays alive for the process
// lifetime; indexes are few and shared via the registry. Empty files and
// mmap failures fall back to a plain read.
func mmapFile(f *os.File, size int) ([]byte, error) {
	if size > 0 {
		data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
		if err == nil {
			return data, nil
		}
	}
	return ioutil.ReadAll(f)
}
