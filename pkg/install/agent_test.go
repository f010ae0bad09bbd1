package install_test

import (
	"bytes"
	"context"
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/solo-io/kubegcore/pkg/install"
	"github.com/solo-io/kubegcore/pkg/options"
)

var _ = Describe("InstallAgent", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("runs a privileged host pid agent the locator can find", func() {
		_, ds, _ := install.Resources(install.AgentOptions{})
		Expect(ds.Namespace).To(Equal("gcore"))
		selector, err := labels.Parse(options.AgentLabelSelectorString)
		Expect(err).NotTo(HaveOccurred())
		Expect(selector.Matches(labels.Set(ds.Spec.Template.Labels))).To(BeTrue())

		spec := ds.Spec.Template.Spec
		Expect(spec.HostPID).To(BeTrue())
		Expect(spec.Containers).To(HaveLen(1))
		Expect(*spec.Containers[0].SecurityContext.Privileged).To(BeTrue())
		Expect(spec.Containers[0].VolumeMounts[0].MountPath).To(Equal("/tmp"))
	})

	It("creates the resources and tolerates existing ones", func() {
		cs := fake.NewSimpleClientset()
		var out bytes.Buffer
		o := install.AgentOptions{Namespace: "debug", Image: "example/gcore-agent:1"}
		Expect(install.InstallAgent(ctx, cs, o, &out, false)).To(Succeed())
		Expect(install.InstallAgent(ctx, cs, o, &out, false)).To(Succeed())

		ds, err := cs.AppsV1().DaemonSets("debug").Get(ctx, "gcore-agent", metav1.GetOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(ds.Spec.Template.Spec.Containers[0].Image).To(Equal("example/gcore-agent:1"))
		_, err = cs.RbacV1().ClusterRoles().Get(ctx, install.OperatorClusterRoleName, metav1.GetOptions{})
		Expect(err).NotTo(HaveOccurred())
	})

	It("prints yaml in preview without touching the cluster", func() {
		cs := fake.NewSimpleClientset()
		var out bytes.Buffer
		Expect(install.InstallAgent(ctx, cs, install.AgentOptions{}, &out, true)).To(Succeed())
		Expect(cs.Actions()).To(BeEmpty())

		Expect(strings.Count(out.String(), "---\n")).To(Equal(3))
		Expect(out.String()).To(ContainSubstring("kind: DaemonSet"))
		Expect(out.String()).To(ContainSubstring("hostPID: true"))
		Expect(out.String()).To(ContainSubstring("pods/exec"))
	})
})
