// Package transfer moves files from a container to the local disk.
//
// A file only appears at its destination once it is complete: bytes land in
// a hidden temporary file next to the destination and are renamed into place
// after the byte count matches what the remote side reported.
package transfer

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/solo-io/go-utils/contextutils"

	"github.com/solo-io/kubegcore/pkg/agentcmd"
	"github.com/solo-io/kubegcore/pkg/platforms"
)

// Channel copies files out of a single container.
type Channel struct {
	executor platforms.Executor
	pod      platforms.PodRef
}

func NewChannel(executor platforms.Executor, pod platforms.PodRef) *Channel {
	return &Channel{executor: executor, pod: pod}
}

// CopyToLocal copies remotePath to localPath. It never overwrites an existing
// file, and on failure leaves nothing at localPath.
func (c *Channel) CopyToLocal(ctx context.Context, remotePath, localPath string) (err error) {
	logger := contextutils.LoggerFrom(ctx)

	if _, statErr := os.Lstat(localPath); statErr == nil {
		return platforms.Errorf(platforms.TransferFailed, "%v already exists", localPath)
	}

	expected, err := c.remoteSize(ctx, remotePath)
	if err != nil {
		return err
	}

	tmp, err := ioutil.TempFile(filepath.Dir(localPath), "."+filepath.Base(localPath)+".partial-")
	if err != nil {
		return platforms.WrapError(platforms.TransferFailed, localPath, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := &countingWriter{w: tmp}
	if err = c.executor.Exec(ctx, c.pod, agentcmd.Cat(remotePath), w); err != nil {
		logger.Warnw("copy interrupted", "remote", remotePath, "received", w.n, "expected", expected)
		return platforms.WrapError(platforms.TransferFailed, remotePath, err)
	}
	if w.n != expected {
		return platforms.Errorf(platforms.TransferFailed,
			"incomplete copy of %v: received %d of %d bytes", remotePath, w.n, expected)
	}
	if err = tmp.Sync(); err != nil {
		return platforms.WrapError(platforms.TransferFailed, localPath, err)
	}
	if err = tmp.Close(); err != nil {
		return platforms.WrapError(platforms.TransferFailed, localPath, err)
	}
	if err = os.Rename(tmp.Name(), localPath); err != nil {
		return platforms.WrapError(platforms.TransferFailed, localPath, err)
	}
	logger.Debugw("copied", "remote", remotePath, "local", localPath, "bytes", w.n)
	return nil
}

func (c *Channel) remoteSize(ctx context.Context, remotePath string) (int64, error) {
	out, err := platforms.Output(ctx, c.executor, c.pod, agentcmd.Size(remotePath)...)
	if err != nil {
		return 0, platforms.WrapError(platforms.TransferFailed, remotePath, err)
	}
	size, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil || size < 0 {
		return 0, platforms.Errorf(platforms.TransferFailed, "unexpected size %q for %v", strings.TrimSpace(out), remotePath)
	}
	return size, nil
}

// Decompress is the package level Decompress, so a Channel can be handed to
// code that needs both halves of a transfer.
func (c *Channel) Decompress(src, dst string) error {
	return Decompress(src, dst)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
