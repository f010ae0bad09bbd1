package kubeutils

import (
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// NewClientConfig loads kubeconfig the way kubectl does: KUBECONFIG, then
// ~/.kube/config, unless kubeconfig names an explicit file. An empty
// kubeContext keeps the current context.
func NewClientConfig(kubeconfig, kubeContext string) clientcmd.ClientConfig {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{}
	if kubeContext != "" {
		overrides.CurrentContext = kubeContext
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides)
}

// NewKubeClientset returns a clientset, its rest config and the namespace of
// the selected context ("default" when the context sets none).
func NewKubeClientset(kubeconfig, kubeContext string) (*kubernetes.Clientset, *rest.Config, string, error) {
	clientConfig := NewClientConfig(kubeconfig, kubeContext)
	restCfg, err := clientConfig.ClientConfig()
	if err != nil {
		return nil, nil, "", err
	}
	namespace, _, err := clientConfig.Namespace()
	if err != nil {
		return nil, nil, "", err
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, nil, "", err
	}
	return clientset, restCfg, namespace, nil
}
