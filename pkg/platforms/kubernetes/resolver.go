package kubernetes

import (
	"context"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/solo-io/go-utils/contextutils"
	v1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/solo-io/kubegcore/pkg/platforms"
)

type Resolver struct {
	clientset kubernetes.Interface
}

func NewResolver(clientset kubernetes.Interface) *Resolver {
	return &Resolver{clientset: clientset}
}

// Resolve finds the node and the runtime id of the pod's only container.
// It only reads from the api server.
func (r *Resolver) Resolve(ctx context.Context, req platforms.CaptureRequest) (*platforms.Placement, error) {
	logger := contextutils.LoggerFrom(ctx)
	logger.Debugw("resolving pod", "pod", req.InstanceName, "namespace", req.Namespace)

	pod, err := r.clientset.CoreV1().Pods(req.Namespace).Get(ctx, req.InstanceName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, platforms.WrapError(platforms.NotFound, req.InstanceName, err)
		}
		return nil, err
	}

	// multi container pods are not supported; picking one would be a guess
	if len(pod.Spec.Containers) != 1 {
		names := make([]string, 0, len(pod.Spec.Containers))
		for _, c := range pod.Spec.Containers {
			names = append(names, c.Name)
		}
		return nil, platforms.Errorf(platforms.AmbiguousContainer,
			"pod %v has %d containers (%v), exactly one is supported", pod.Name, len(names), strings.Join(names, ", "))
	}
	container := pod.Spec.Containers[0]

	if pod.Spec.NodeName == "" {
		return nil, platforms.Errorf(platforms.ContainerNotRunning, "pod %v is not scheduled to a node", pod.Name)
	}

	logger.Debugw("container statuses", "statuses", spew.Sdump(pod.Status.ContainerStatuses))
	status := containerStatus(pod, container.Name)
	if status == nil || status.State.Running == nil || status.ContainerID == "" {
		return nil, platforms.Errorf(platforms.ContainerNotRunning, "container %v of pod %v is not running", container.Name, pod.Name)
	}

	runtime, id := splitContainerID(status.ContainerID)
	return &platforms.Placement{
		Namespace:          pod.Namespace,
		PodName:            pod.Name,
		NodeName:           pod.Spec.NodeName,
		ContainerName:      container.Name,
		ContainerRuntimeID: id,
		Runtime:            runtime,
	}, nil
}

func containerStatus(pod *v1.Pod, name string) *v1.ContainerStatus {
	for i := range pod.Status.ContainerStatuses {
		if pod.Status.ContainerStatuses[i].Name == name {
			return &pod.Status.ContainerStatuses[i]
		}
	}
	return nil
}

// splitContainerID splits "containerd://<id>" into its runtime and id.
func splitContainerID(containerID string) (string, string) {
	parts := strings.SplitN(containerID, "://", 2)
	if len(parts) != 2 {
		return "", containerID
	}
	return parts[0], parts[1]
}
