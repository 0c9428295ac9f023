package cluster

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const kubeconfigPollInterval = 2 * time.Second

// Options configures cluster client construction and bootstrap
type Options struct {
	KubeconfigPath    string
	APIServer         string // optional host override for the API server
	Namespace         string
	KubeconfigTimeout time.Duration
}

// Client wraps the scheduler clientset together with the target namespace
type Client struct {
	clientset kubernetes.Interface
	namespace string
}

// NewClient waits for cluster credentials and builds a clientset.
//
// It polls for the kubeconfig file up to the configured timeout and falls
// back to in-cluster config when the file never appears (useful when the
// provisioner itself runs inside the cluster).
func NewClient(opts Options) (*Client, error) {
	waitForKubeconfig(opts.KubeconfigPath, opts.KubeconfigTimeout)

	restCfg, err := buildRESTConfig(opts.KubeconfigPath)
	if err != nil {
		return nil, err
	}

	// When connecting from inside a container to the host's cluster, the
	// kubeconfig may reference localhost. Rewrite the server address so it
	// reaches the host; self-signed certs are common for local clusters.
	if opts.APIServer != "" {
		restCfg.Host = opts.APIServer
		restCfg.TLSClientConfig = rest.TLSClientConfig{Insecure: true}
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster clientset: %w", err)
	}

	return &Client{
		clientset: clientset,
		namespace: opts.Namespace,
	}, nil
}

// NewClientWithClientset wraps an existing clientset (used by tests)
func NewClientWithClientset(clientset kubernetes.Interface, namespace string) *Client {
	return &Client{
		clientset: clientset,
		namespace: namespace,
	}
}

// Clientset returns the underlying scheduler clientset
func (c *Client) Clientset() kubernetes.Interface {
	return c.clientset
}

// Namespace returns the namespace all sandbox resources live in
func (c *Client) Namespace() string {
	return c.namespace
}

// waitForKubeconfig polls for the mounted kubeconfig file until it appears
// or the timeout elapses. A missing file is not fatal: buildRESTConfig
// falls back to in-cluster config afterwards.
func waitForKubeconfig(path string, timeout time.Duration) {
	if path == "" {
		return
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if info, err := os.Stat(path); err == nil {
			if info.Mode().IsRegular() {
				log.Printf("found kubeconfig file at %s", path)
				return
			}
			log.Printf("kubeconfig path %s exists but is not a regular file", path)
			return
		}
		log.Printf("waiting for kubeconfig at %s ...", path)
		time.Sleep(kubeconfigPollInterval)
	}
	log.Printf("kubeconfig not found at %s after %s; will attempt in-cluster config", path, timeout)
}

// buildRESTConfig loads the kubeconfig file if present, otherwise falls
// back to in-cluster config.
func buildRESTConfig(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath != "" {
		if info, err := os.Stat(kubeconfigPath); err == nil {
			if info.IsDir() {
				return nil, fmt.Errorf("kubeconfig path points to a directory, expected a file: %s", kubeconfigPath)
			}
			cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load kubeconfig from %s: %w", kubeconfigPath, err)
			}
			log.Printf("loaded kubeconfig from %s", kubeconfigPath)
			return cfg, nil
		}
	}

	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("no kubeconfig at %s and in-cluster config is unavailable: %w", kubeconfigPath, err)
	}
	return cfg, nil
}

// EnsureNamespace creates the target namespace if it does not yet exist
func (c *Client) EnsureNamespace(ctx context.Context) error {
	_, err := c.clientset.CoreV1().Namespaces().Get(ctx, c.namespace, metav1.GetOptions{})
	if err == nil {
		log.Printf("namespace %q already exists", c.namespace)
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to read namespace %q: %w", c.namespace, err)
	}

	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   c.namespace,
			Labels: commonLabels(),
		},
	}
	if _, err := c.clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("failed to create namespace %q: %w", c.namespace, err)
	}
	log.Printf("created namespace %q", c.namespace)
	return nil
}

// EnsureNetworkPolicy creates or updates the sandbox isolation policy
func (c *Client) EnsureNetworkPolicy(ctx context.Context, internalCIDRs []string) error {
	policy := BuildNetworkPolicy(c.namespace, internalCIDRs)
	policies := c.clientset.NetworkingV1().NetworkPolicies(c.namespace)

	existing, err := policies.Get(ctx, NetworkPolicyName, metav1.GetOptions{})
	if err == nil {
		policy.ResourceVersion = existing.ResourceVersion
		if _, err := policies.Update(ctx, policy, metav1.UpdateOptions{}); err != nil {
			return fmt.Errorf("failed to update network policy %q: %w", NetworkPolicyName, err)
		}
		log.Printf("updated network policy %q", NetworkPolicyName)
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to read network policy %q: %w", NetworkPolicyName, err)
	}

	if _, err := policies.Create(ctx, policy, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("failed to create network policy %q: %w", NetworkPolicyName, err)
	}
	log.Printf("created network policy %q", NetworkPolicyName)
	return nil
}
