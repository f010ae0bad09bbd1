package transfer

import (
	"bufio"
	"compress/gzip"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/solo-io/kubegcore/pkg/platforms"
)

const blockSize = 64 * 1024

// Decompress gunzips src into dst. Runs of zero blocks become holes, since
// core dumps of garbage collected runtimes are mostly unbacked address space.
// dst only appears once it is fully written.
func Decompress(src, dst string) (err error) {
	if _, statErr := os.Lstat(dst); statErr == nil {
		return platforms.Errorf(platforms.TransferFailed, "%v already exists", dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return platforms.WrapError(platforms.TransferFailed, src, err)
	}
	defer in.Close()

	zr, err := gzip.NewReader(bufio.NewReaderSize(in, blockSize))
	if err != nil {
		return platforms.WrapError(platforms.TransferFailed, src, err)
	}
	defer zr.Close()

	tmp, err := ioutil.TempFile(filepath.Dir(dst), "."+filepath.Base(dst)+".partial-")
	if err != nil {
		return platforms.WrapError(platforms.TransferFailed, dst, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = sparseCopy(tmp, zr); err != nil {
		return platforms.WrapError(platforms.TransferFailed, src, err)
	}
	if err = tmp.Sync(); err != nil {
		return platforms.WrapError(platforms.TransferFailed, dst, err)
	}
	if err = tmp.Close(); err != nil {
		return platforms.WrapError(platforms.TransferFailed, dst, err)
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return platforms.WrapError(platforms.TransferFailed, dst, err)
	}
	return nil
}

func sparseCopy(dst *os.File, src io.Reader) error {
	buf := make([]byte, blockSize)
	var size int64
	for {
		n, err := readBlock(src, buf)
		if n > 0 {
			if isZero(buf[:n]) {
				if _, err := dst.Seek(int64(n), io.SeekCurrent); err != nil {
					return err
				}
			} else if _, err := dst.Write(buf[:n]); err != nil {
				return err
			}
			size += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	// a trailing hole has to be materialized by extending the file
	return dst.Truncate(size)
}

// readBlock fills buf unless src ends or fails first. src errors are returned
// as is, so a truncated gzip stream surfaces as io.ErrUnexpectedEOF.
func readBlock(src io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := src.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
