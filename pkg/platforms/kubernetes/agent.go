package kubernetes

import (
	"context"
	"strings"

	"github.com/solo-io/go-utils/contextutils"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/client-go/kubernetes"

	"github.com/solo-io/kubegcore/pkg/platforms"
)

// AgentLocator finds the gcore agent pod on a node. Agents are expected to be
// deployed as a DaemonSet, one per node, each owning the node's /tmp.
type AgentLocator struct {
	clientset kubernetes.Interface

	// Namespace to search; empty means all namespaces.
	Namespace string
	Selector  string
	// Container to exec into; empty means the pod's first container.
	Container string
}

func NewAgentLocator(clientset kubernetes.Interface, namespace, selector, container string) *AgentLocator {
	return &AgentLocator{
		clientset: clientset,
		Namespace: namespace,
		Selector:  selector,
		Container: container,
	}
}

func (l *AgentLocator) Locate(ctx context.Context, nodeName string) (*platforms.AgentHandle, error) {
	logger := contextutils.LoggerFrom(ctx)

	pods, err := l.clientset.CoreV1().Pods(l.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: l.Selector,
		FieldSelector: fields.OneTermEqualSelector("spec.nodeName", nodeName).String(),
	})
	if err != nil {
		return nil, err
	}

	var matches []v1.Pod
	for _, pod := range pods.Items {
		// the field selector is not honored by every api implementation
		if pod.Spec.NodeName != nodeName {
			continue
		}
		if pod.Status.Phase != v1.PodRunning || pod.DeletionTimestamp != nil {
			logger.Debugw("skipping agent that is not running", "pod", pod.Name, "phase", pod.Status.Phase)
			continue
		}
		matches = append(matches, pod)
	}

	switch len(matches) {
	case 0:
		return nil, platforms.Errorf(platforms.NoAgentOnNode,
			"no running pod matching %q on node %v; deploy the gcore agent to every node", l.Selector, nodeName)
	case 1:
	default:
		names := make([]string, 0, len(matches))
		for _, pod := range matches {
			names = append(names, pod.Namespace+"/"+pod.Name)
		}
		return nil, platforms.Errorf(platforms.MultipleAgentsOnNode,
			"%d agents on node %v: %v", len(matches), nodeName, strings.Join(names, ", "))
	}

	agent := matches[0]
	container, err := l.chooseContainer(&agent)
	if err != nil {
		return nil, err
	}
	return &platforms.AgentHandle{
		Namespace:     agent.Namespace,
		PodName:       agent.Name,
		ContainerName: container,
		NodeName:      nodeName,
	}, nil
}

func (l *AgentLocator) chooseContainer(pod *v1.Pod) (string, error) {
	if len(pod.Spec.Containers) == 0 {
		return "", platforms.Errorf(platforms.NoAgentOnNode, "agent pod %v has no containers", pod.Name)
	}
	if l.Container == "" {
		return pod.Spec.Containers[0].Name, nil
	}
	for _, c := range pod.Spec.Containers {
		if c.Name == l.Container {
			return c.Name, nil
		}
	}
	return "", platforms.Errorf(platforms.NoAgentOnNode, "agent pod %v has no container %v", pod.Name, l.Container)
}
