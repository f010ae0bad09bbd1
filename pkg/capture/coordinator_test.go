package capture_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/solo-io/kubegcore/pkg/capture"
	"github.com/solo-io/kubegcore/pkg/platforms"
	"github.com/solo-io/kubegcore/pkg/platforms/fake"
	"github.com/solo-io/kubegcore/pkg/platforms/kubernetes"
	"github.com/solo-io/kubegcore/pkg/transfer"
)

var capturedAt = time.Date(2024, 3, 5, 10, 11, 12, 0, time.UTC)

// agentScript answers like a healthy agent for pid 4821 running /app/web.
func agentScript(core, binary []byte) *fake.Executor {
	compressed := gzipped(core)
	return fake.NewExecutor().
		On("crictl inspect", "4821\n", nil).
		On("/proc/4821/cmdline", "/app/web\x00--port\x008080\x00", nil).
		On("stat -L -c %s /tmp/core.4821.gz", fmt.Sprint(len(compressed)), nil).
		On("cat /tmp/core.4821.gz", string(compressed), nil).
		On("stat -L -c %s /proc/4821/exe", fmt.Sprint(len(binary)), nil).
		On("cat /proc/4821/exe", string(binary), nil)
}

func gzipped(data []byte) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(zw.Close()).To(Succeed())
	return buf.Bytes()
}

// secondCleanFails fails every cleanup after the first one.
type secondCleanFails struct {
	*fake.Executor
	cleans int
}

func (s *secondCleanFails) Exec(ctx context.Context, pod platforms.PodRef, cmd []string, stdout io.Writer) error {
	if strings.Contains(strings.Join(cmd, " "), "rm -f") {
		s.cleans++
		if s.cleans > 1 {
			s.Executor.Exec(ctx, pod, cmd, stdout)
			return &platforms.ExecError{Command: cmd, Stderr: "rm: cannot remove '/tmp/core.4821.gz': Read-only file system"}
		}
	}
	return s.Executor.Exec(ctx, pod, cmd, stdout)
}

var _ = Describe("Coordinator", func() {
	var (
		dir       string
		core      []byte
		binary    []byte
		executor  *fake.Executor
		out       *bytes.Buffer
		agent     platforms.AgentHandle
		placement *platforms.Placement
		req       platforms.CaptureRequest
	)

	BeforeEach(func() {
		var err error
		dir, err = ioutil.TempDir("", "capture")
		Expect(err).NotTo(HaveOccurred())

		core = make([]byte, 256*1024)
		copy(core, "\x7fELF")
		copy(core[128*1024:], "goroutine stacks")
		binary = []byte("\x7fELF web binary")
		executor = agentScript(core, binary)
		out = &bytes.Buffer{}

		agent = platforms.AgentHandle{Namespace: "gcore", PodName: "gcore-agent-xk2", ContainerName: "gcore", NodeName: "node-a"}
		placement = &platforms.Placement{
			Namespace:          "shop",
			PodName:            "web-7f",
			NodeName:           "node-a",
			ContainerName:      "web",
			ContainerRuntimeID: "4a1d9c",
			Runtime:            "containerd",
		}
		req = platforms.CaptureRequest{InstanceName: "web-7f", Namespace: "shop"}
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	newCoordinator := func(e platforms.Executor) *capture.Coordinator {
		return &capture.Coordinator{
			Agent:     agent,
			Executor:  e,
			Describer: kubernetes.NewProcessDescriber(e),
			Channel:   transfer.NewChannel(e, agent.Pod()),
			RemoteDir: "/tmp",
			OutputDir: dir,
			Out:       out,
			Now:       func() time.Time { return capturedAt },
		}
	}

	It("captures, transfers and cleans up", func() {
		c := newCoordinator(executor)
		res, err := c.Run(context.Background(), req, placement)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.CleanupErr).NotTo(HaveOccurred())

		Expect(c.History()).To(Equal([]capture.State{capture.Idle, capture.CleaningPre, capture.Capturing, capture.Compressing, capture.Transferring, capture.CleaningPost, capture.Done}))
		Expect(c.State()).To(Equal(capture.Done))

		Expect(res.Process.HostPID).To(Equal(4821))
		Expect(res.Process.ExecutablePath).To(Equal("/app/web"))
		Expect(*res.Artifact).To(Equal(capture.Artifact{
			RemoteSnapshotPath:   "/tmp/core.4821",
			RemoteCompressedPath: "/tmp/core.4821.gz",
			LocalSnapshotPath:    filepath.Join(dir, "web-7f-20240305T101112-core"),
			LocalBinaryPath:      filepath.Join(dir, "web-7f-20240305T101112-binary"),
			CapturedAt:           capturedAt,
		}))

		b, err := ioutil.ReadFile(res.Artifact.LocalSnapshotPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal(core))
		b, err = ioutil.ReadFile(res.Artifact.LocalBinaryPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal(binary))
		info, err := os.Stat(res.Artifact.LocalBinaryPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Mode().Perm()).To(Equal(os.FileMode(0755)))

		files, err := ioutil.ReadDir(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(files).To(HaveLen(2))
	})

	It("runs the agent commands in order", func() {
		_, err := newCoordinator(executor).Run(context.Background(), req, placement)
		Expect(err).NotTo(HaveOccurred())

		calls := executor.Calls()
		Expect(calls[0].Command).To(Equal([]string{"sh", "-c", "rm -f '/tmp'/core.*"}))
		Expect(calls[len(calls)-1].Command).To(Equal([]string{"sh", "-c", "rm -f '/tmp'/core.*"}))
		Expect(executor.Count("rm -f")).To(Equal(2))

		Expect(executor.Index("crictl")).To(BeNumerically("<", executor.Index("gcore -o")))
		Expect(executor.Index("gcore -o /tmp/core 4821")).To(BeNumerically("<", executor.Index("gzip -f -1 /tmp/core.4821")))
		Expect(executor.Index("gzip")).To(BeNumerically("<", executor.Index("cat /tmp/core.4821.gz")))
		Expect(executor.Index("cat /tmp/core.4821.gz")).To(BeNumerically("<", executor.Index("cat /proc/4821/exe")))
		for _, call := range calls {
			Expect(call.Pod).To(Equal(agent.Pod()))
		}
	})

	It("prints progress before each stage", func() {
		_, err := newCoordinator(executor).Run(context.Background(), req, placement)
		Expect(err).NotTo(HaveOccurred())
		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		Expect(lines[0]).To(ContainSubstring("gcore-agent-xk2"))
		Expect(out.String()).To(ContainSubstring("pid 4821"))
		Expect(out.String()).To(ContainSubstring("Compressing /tmp/core.4821"))
		Expect(lines[len(lines)-1]).To(ContainSubstring("Removing snapshots"))
	})

	It("stops before capturing when the first cleanup fails", func() {
		executor.On("rm -f", "", errors.New("sh: rm: not found"))
		c := newCoordinator(executor)
		res, err := c.Run(context.Background(), req, placement)
		Expect(platforms.IsKind(err, platforms.CleanupFailed)).To(BeTrue())
		Expect(res.CleanupErr).NotTo(HaveOccurred())
		Expect(executor.Calls()).To(HaveLen(1))
		Expect(c.History()).To(Equal([]capture.State{capture.Idle, capture.CleaningPre, capture.Failed}))
	})

	It("cleans up exactly once after a failed capture", func() {
		executor.On("gcore", "", errors.New("ptrace: Operation not permitted."))
		c := newCoordinator(executor)
		res, err := c.Run(context.Background(), req, placement)
		Expect(platforms.IsKind(err, platforms.CaptureFailed)).To(BeTrue())
		Expect(err.Error()).To(Equal("ptrace: Operation not permitted."))
		Expect(res.Artifact).To(BeNil())

		Expect(executor.Count("rm -f")).To(Equal(2))
		Expect(executor.Count("gzip")).To(BeZero())
		Expect(c.History()).To(Equal([]capture.State{capture.Idle, capture.CleaningPre, capture.Capturing, capture.CleaningPost, capture.Failed}))
	})

	It("reports a failed cleanup without hiding the capture error", func() {
		executor.On("gcore", "", errors.New("ptrace: Operation not permitted."))
		e := &secondCleanFails{Executor: executor}
		c := newCoordinator(e)
		res, err := c.Run(context.Background(), req, placement)
		Expect(platforms.IsKind(err, platforms.CaptureFailed)).To(BeTrue())
		Expect(platforms.IsKind(res.CleanupErr, platforms.CleanupFailed)).To(BeTrue())
		Expect(res.CleanupErr.Error()).To(ContainSubstring("Read-only file system"))
		Expect(c.State()).To(Equal(capture.Failed))
	})

	It("reports a failed cleanup after a successful capture as a warning", func() {
		e := &secondCleanFails{Executor: executor}
		c := newCoordinator(e)
		res, err := c.Run(context.Background(), req, placement)
		Expect(err).NotTo(HaveOccurred())
		Expect(platforms.IsKind(res.CleanupErr, platforms.CleanupFailed)).To(BeTrue())
		Expect(res.Artifact).NotTo(BeNil())
		Expect(c.State()).To(Equal(capture.Done))
	})

	It("fails on a compression error and still cleans up", func() {
		executor.On("gzip", "", errors.New("gzip: /tmp/core.4821: No space left on device"))
		c := newCoordinator(executor)
		_, err := c.Run(context.Background(), req, placement)
		Expect(platforms.IsKind(err, platforms.CompressionFailed)).To(BeTrue())
		Expect(platforms.KindOf(err).Class()).To(Equal("CaptureFailed"))
		Expect(executor.Count("rm -f")).To(Equal(2))
		Expect(executor.Count("cat /tmp")).To(BeZero())
		Expect(c.History()).To(Equal([]capture.State{capture.Idle, capture.CleaningPre, capture.Capturing, capture.Compressing, capture.CleaningPost, capture.Failed}))
	})

	It("does not capture when the pid lookup returns nothing", func() {
		executor.On("crictl inspect", "", nil)
		c := newCoordinator(executor)
		_, err := c.Run(context.Background(), req, placement)
		Expect(platforms.IsKind(err, platforms.AgentQueryFailed)).To(BeTrue())
		Expect(executor.Count("gcore")).To(BeZero())
		Expect(executor.Count("rm -f")).To(Equal(2))

		files, err := ioutil.ReadDir(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(files).To(BeEmpty())
	})

	It("does not capture a garbled pid", func() {
		executor.On("crictl inspect", "abc", nil)
		_, err := newCoordinator(executor).Run(context.Background(), req, placement)
		Expect(platforms.IsKind(err, platforms.AgentQueryFailed)).To(BeTrue())
		Expect(executor.Count("gcore")).To(BeZero())
	})

	It("leaves no snapshot behind when the transfer is interrupted", func() {
		compressed := gzipped(core)
		executor.On("cat /tmp/core.4821.gz", string(compressed[:len(compressed)/3]), errors.New("error: connection reset by peer"))
		c := newCoordinator(executor)
		res, err := c.Run(context.Background(), req, placement)
		Expect(platforms.IsKind(err, platforms.TransferFailed)).To(BeTrue())
		Expect(res.Artifact).To(BeNil())
		Expect(executor.Count("rm -f")).To(Equal(2))
		Expect(executor.Count("/proc/4821/exe")).To(BeZero())

		files, err := ioutil.ReadDir(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(files).To(BeEmpty())
		Expect(c.History()).To(Equal([]capture.State{capture.Idle, capture.CleaningPre, capture.Capturing, capture.Compressing, capture.Transferring, capture.CleaningPost, capture.Failed}))
	})

	It("drops the core when the executable cannot be copied", func() {
		executor.On("cat /proc/4821/exe", "", errors.New("error: connection reset by peer"))
		c := newCoordinator(executor)
		res, err := c.Run(context.Background(), req, placement)
		Expect(platforms.IsKind(err, platforms.TransferFailed)).To(BeTrue())
		Expect(res.Artifact).To(BeNil())
		Expect(executor.Count("cat /tmp/core.4821.gz")).To(Equal(1))
		Expect(executor.Count("rm -f")).To(Equal(2))

		files, err := ioutil.ReadDir(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(files).To(BeEmpty())
		Expect(c.State()).To(Equal(capture.Failed))
	})

	It("can run again on the same agent", func() {
		_, err := newCoordinator(executor).Run(context.Background(), req, placement)
		Expect(err).NotTo(HaveOccurred())

		later := newCoordinator(executor)
		later.Now = func() time.Time { return capturedAt.Add(time.Second) }
		res, err := later.Run(context.Background(), req, placement)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Artifact.LocalSnapshotPath).To(HaveSuffix("web-7f-20240305T101113-core"))
		Expect(executor.Count("rm -f")).To(Equal(4))
	})

	It("never overwrites an earlier capture", func() {
		first, err := newCoordinator(executor).Run(context.Background(), req, placement)
		Expect(err).NotTo(HaveOccurred())

		_, err = newCoordinator(executor).Run(context.Background(), req, placement)
		Expect(platforms.IsKind(err, platforms.TransferFailed)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("already exists"))
		Expect(executor.Count("gcore -o")).To(Equal(1))
		Expect(executor.Count("cat /tmp/core.4821.gz")).To(Equal(1))
		Expect(executor.Count("rm -f")).To(Equal(4))
		b, err := ioutil.ReadFile(first.Artifact.LocalSnapshotPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal(core))

		files, err := ioutil.ReadDir(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(files).To(HaveLen(2))
	})

	It("runs once", func() {
		c := newCoordinator(executor)
		_, err := c.Run(context.Background(), req, placement)
		Expect(err).NotTo(HaveOccurred())
		_, err = c.Run(context.Background(), req, placement)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("LocalName", func() {
	It("uses the UTC capture time", func() {
		at := time.Date(2024, 3, 5, 11, 11, 12, 0, time.FixedZone("CET", 3600))
		Expect(capture.LocalName("web-7f", at, "core")).To(Equal("web-7f-20240305T101112-core"))
		Expect(capture.LocalName("web-7f", at, "binary")).To(Equal("web-7f-20240305T101112-binary"))
	})
})

var _ = Describe("State", func() {
	It("names every state", func() {
		Expect(capture.CleaningPre.String()).To(Equal("Cleaning(pre)"))
		Expect(capture.CleaningPost.String()).To(Equal("Cleaning(post)"))
		Expect(capture.State(42).String()).To(Equal("Unknown"))
		Expect(capture.Done.Terminal()).To(BeTrue())
		Expect(capture.Failed.Terminal()).To(BeTrue())
		Expect(capture.Transferring.Terminal()).To(BeFalse())
	})
})
