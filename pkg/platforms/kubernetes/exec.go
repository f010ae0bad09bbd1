package kubernetes

import (
	"bytes"
	"context"
	"io"

	"github.com/solo-io/go-utils/contextutils"
	v1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/solo-io/kubegcore/pkg/platforms"
)

// PodExecutor runs commands through the pods/exec subresource, like kubectl exec.
type PodExecutor struct {
	clientset kubernetes.Interface
	config    *rest.Config
}

func NewPodExecutor(clientset kubernetes.Interface, config *rest.Config) *PodExecutor {
	return &PodExecutor{clientset: clientset, config: config}
}

// Exec blocks until the remote command exits. The stream cannot be
// interrupted once started; ctx is only checked before the call.
func (p *PodExecutor) Exec(ctx context.Context, pod platforms.PodRef, cmd []string, stdout io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	contextutils.LoggerFrom(ctx).Debugw("exec", "pod", pod.Name, "namespace", pod.Namespace, "container", pod.Container, "cmd", cmd)

	req := p.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod.Name).
		Namespace(pod.Namespace).
		SubResource("exec").
		VersionedParams(&v1.PodExecOptions{
			Container: pod.Container,
			Command:   cmd,
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(p.config, "POST", req.URL())
	if err != nil {
		return err
	}

	var stderr bytes.Buffer
	if err := executor.Stream(remotecommand.StreamOptions{
		Stdout: stdout,
		Stderr: &stderr,
	}); err != nil {
		return &platforms.ExecError{Command: cmd, Stderr: stderr.String(), Err: err}
	}
	return nil
}
