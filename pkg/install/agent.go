// Package install creates the gcore agent DaemonSet and the ClusterRole
// operators need to run kubegcore.
package install

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v2"
	appsv1 "k8s.io/api/apps/v1"
	v1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"

	"github.com/solo-io/kubegcore/pkg/options"
)

var (
	AgentName        = "gcore-agent"
	DefaultNamespace = "gcore"
	DefaultImage     = "quay.io/solo-io/gcore-agent:latest"

	OperatorClusterRoleName = "kubegcore-operator"
)

type AgentOptions struct {
	Namespace string
	Image     string
	// RemoteDir is mounted from the node so snapshots never land in the
	// container's writable layer.
	RemoteDir string
}

func (o AgentOptions) withDefaults() AgentOptions {
	if o.Namespace == "" {
		o.Namespace = DefaultNamespace
	}
	if o.Image == "" {
		o.Image = DefaultImage
	}
	if o.RemoteDir == "" {
		o.RemoteDir = options.RemoteDir
	}
	return o
}

// Resources returns the objects InstallAgent creates, in creation order.
func Resources(o AgentOptions) (*v1.Namespace, *appsv1.DaemonSet, *rbacv1.ClusterRole) {
	o = o.withDefaults()
	labels := map[string]string{options.AgentLabelSelectorKey: options.AgentLabelSelectorValue}
	privileged := true

	ns := &v1.Namespace{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Namespace"},
		ObjectMeta: metav1.ObjectMeta{Name: o.Namespace},
	}

	ds := &appsv1.DaemonSet{
		TypeMeta: metav1.TypeMeta{APIVersion: "apps/v1", Kind: "DaemonSet"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      AgentName,
			Namespace: o.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.DaemonSetSpec{
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: v1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: v1.PodSpec{
					// /proc must be the host's for gcore and /proc/<pid>/exe
					HostPID: true,
					Tolerations: []v1.Toleration{
						{Operator: v1.TolerationOpExists},
					},
					Containers: []v1.Container{
						{
							Name:    AgentName,
							Image:   o.Image,
							Command: []string{"sleep", "infinity"},
							SecurityContext: &v1.SecurityContext{
								Privileged: &privileged,
							},
							VolumeMounts: []v1.VolumeMount{
								{Name: "scratch", MountPath: o.RemoteDir},
							},
						},
					},
					Volumes: []v1.Volume{
						{
							Name: "scratch",
							VolumeSource: v1.VolumeSource{
								EmptyDir: &v1.EmptyDirVolumeSource{},
							},
						},
					},
				},
			},
		},
	}

	cr := &rbacv1.ClusterRole{
		TypeMeta:   metav1.TypeMeta{APIVersion: "rbac.authorization.k8s.io/v1", Kind: "ClusterRole"},
		ObjectMeta: metav1.ObjectMeta{Name: OperatorClusterRoleName},
		Rules: []rbacv1.PolicyRule{
			{
				Verbs:     []string{"get", "list"},
				Resources: []string{"pods"},
				APIGroups: []string{""},
			},
			{
				Verbs:     []string{"create"},
				Resources: []string{"pods/exec"},
				APIGroups: []string{""},
			},
			{
				Verbs:     []string{"get", "create", "update", "delete"},
				Resources: []string{"leases"},
				APIGroups: []string{"coordination.k8s.io"},
			},
		},
	}
	return ns, ds, cr
}

// InstallAgent creates the agent resources. Resources that already exist are
// left alone. With preview set it writes them to w as yaml instead.
func InstallAgent(ctx context.Context, cs kubernetes.Interface, o AgentOptions, w io.Writer, preview bool) error {
	ns, ds, cr := Resources(o)

	if preview {
		for _, obj := range []runtime.Object{ns, ds, cr} {
			if err := printYaml(w, obj); err != nil {
				return err
			}
		}
		return nil
	}

	fmt.Fprintf(w, "Creating namespace %v\n", ns.Name)
	if _, err := cs.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		return err
	}
	fmt.Fprintf(w, "Creating daemonset %v/%v\n", ds.Namespace, ds.Name)
	if _, err := cs.AppsV1().DaemonSets(ds.Namespace).Create(ctx, ds, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		return err
	}
	fmt.Fprintf(w, "Creating clusterRole %v\n", cr.Name)
	if _, err := cs.RbacV1().ClusterRoles().Create(ctx, cr, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		return err
	}
	return nil
}

// printYaml goes through json so the output uses the api field names and can
// be fed to kubectl apply.
func printYaml(w io.Writer, obj runtime.Object) error {
	js, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	var doc yaml.MapSlice
	if err := yaml.Unmarshal(js, &doc); err != nil {
		return err
	}
	yml, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "---\n%s", yml)
	return err
}
