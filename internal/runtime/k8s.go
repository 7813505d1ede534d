package runtime

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sruntime "k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"
)

const (
	sandboxNameHashLabel = "agents.x-k8s.io/sandbox-name-hash"
	sandboxContainerName = "agent"
	pollInterval         = 2 * time.Second
	pollTimeout          = 5 * time.Minute
)

// Compile-time interface check.
var _ Adapter = (*K8sAdapter)(nil)

// K8sAdapter runs sandboxes as agent-sandbox Sandbox CRs in a cluster.
type K8sAdapter struct {
	cfg       K8sConfig
	k8s       client.Client
	clientset kubernetes.Interface
}

// NewK8sAdapter creates a Kubernetes adapter using in-cluster or KUBECONFIG config.
func NewK8sAdapter(cfg K8sConfig) (*K8sAdapter, error) {
	restCfg, err := buildRESTConfig()
	if err != nil {
		return nil, fmt.Errorf("k8s config: %w", err)
	}

	s := k8sruntime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(s))
	utilruntime.Must(sandboxv1alpha1.AddToScheme(s))

	k8sClient, err := client.New(restCfg, client.Options{Scheme: s})
	if err != nil {
		return nil, fmt.Errorf("controller-runtime client: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes clientset: %w", err)
	}

	return &K8sAdapter{
		cfg:       cfg,
		k8s:       k8sClient,
		clientset: clientset,
	}, nil
}

func buildRESTConfig() (*rest.Config, error) {
	cfg, err := rest.InClusterConfig()
	if err == nil {
		return cfg, nil
	}
	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		kubeconfig = os.Getenv("HOME") + "/.kube/config"
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}

// CleanOrphans deletes managed Sandbox CRs from previous runs that the
// registry no longer tracks.
func (a *K8sAdapter) CleanOrphans(ctx context.Context, known []string) {
	knownSet := make(map[string]bool, len(known))
	for _, ref := range known {
		knownSet[ref] = true
	}

	var list sandboxv1alpha1.SandboxList
	if err := a.k8s.List(ctx, &list,
		client.InNamespace(a.cfg.Namespace),
		client.MatchingLabels{labelManagedBy: labelValue},
	); err != nil {
		log.Printf("failed to list orphan sandboxes: %v", err)
		return
	}
	for i := range list.Items {
		if knownSet[list.Items[i].Name] {
			continue
		}
		log.Printf("cleaning orphan sandbox %s", list.Items[i].Name)
		if err := a.k8s.Delete(ctx, &list.Items[i]); err != nil {
			log.Printf("failed to delete orphan sandbox %s: %v", list.Items[i].Name, err)
		}
	}
}

func (a *K8sAdapter) Create(ctx context.Context, spec Spec) (*Instance, error) {
	containerEnv := []corev1.EnvVar{{Name: "TERM", Value: "xterm-256color"}}
	for _, kv := range spec.Env {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				containerEnv = append(containerEnv, corev1.EnvVar{Name: kv[:i], Value: kv[i+1:]})
				break
			}
		}
	}
	services := "agent-only"
	if spec.FullServices {
		services = "full"
	}
	containerEnv = append(containerEnv, corev1.EnvVar{Name: "SANDBOX_SERVICES", Value: services})

	sb := &sandboxv1alpha1.Sandbox{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: a.cfg.Namespace,
			Labels:    map[string]string{labelManagedBy: labelValue},
		},
		Spec: sandboxv1alpha1.SandboxSpec{
			PodTemplate: sandboxv1alpha1.PodTemplate{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  sandboxContainerName,
						Image: spec.Image,
						Env:   containerEnv,
						Resources: corev1.ResourceRequirements{
							Limits: corev1.ResourceList{
								corev1.ResourceMemory: resource.MustParse(a.cfg.MemoryLimit),
								corev1.ResourceCPU:    resource.MustParse(a.cfg.CPULimit),
							},
						},
					}},
					ImagePullSecrets: a.imagePullSecrets(),
					RestartPolicy:    corev1.RestartPolicyNever,
				},
			},
		},
	}

	if err := a.k8s.Create(ctx, sb); err != nil {
		return nil, fmt.Errorf("create sandbox CR: %w", err)
	}

	podIP, err := a.waitForReady(ctx, spec.Name)
	if err != nil {
		// Cleanup on failure.
		_ = a.k8s.Delete(ctx, sb)
		return nil, fmt.Errorf("sandbox not ready: %w", err)
	}

	return &Instance{
		Address:     fmt.Sprintf("%s:%d", podIP, a.cfg.AgentPort),
		ResourceRef: spec.Name,
	}, nil
}

// waitForReady polls until the Sandbox has Ready=True and returns the backing pod IP.
func (a *K8sAdapter) waitForReady(ctx context.Context, sandboxName string) (string, error) {
	deadline := time.Now().Add(pollTimeout)
	hash := nameHash(sandboxName)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		var sb sandboxv1alpha1.Sandbox
		key := client.ObjectKey{Namespace: a.cfg.Namespace, Name: sandboxName}
		if err := a.k8s.Get(ctx, key, &sb); err != nil {
			time.Sleep(pollInterval)
			continue
		}

		if isSandboxReady(&sb) {
			podList, err := a.clientset.CoreV1().Pods(a.cfg.Namespace).List(ctx, metav1.ListOptions{
				LabelSelector: sandboxNameHashLabel + "=" + hash,
			})
			if err != nil {
				time.Sleep(pollInterval)
				continue
			}
			for _, pod := range podList.Items {
				if pod.Status.Phase == corev1.PodRunning && pod.Status.PodIP != "" {
					return pod.Status.PodIP, nil
				}
			}
		}
		time.Sleep(pollInterval)
	}
	return "", fmt.Errorf("timed out waiting for sandbox %s", sandboxName)
}

func isSandboxReady(sb *sandboxv1alpha1.Sandbox) bool {
	for _, c := range sb.Status.Conditions {
		if c.Type == string(sandboxv1alpha1.SandboxConditionReady) && c.Status == metav1.ConditionTrue {
			return true
		}
	}
	return false
}

// nameHash replicates the agent-sandbox controller's FNV-1a hash for label selectors.
func nameHash(name string) string {
	h := fnv.New32a()
	h.Write([]byte(name))
	return fmt.Sprintf("%08x", h.Sum32())
}

func (a *K8sAdapter) imagePullSecrets() []corev1.LocalObjectReference {
	if a.cfg.ImagePullSecret == "" {
		return nil
	}
	return []corev1.LocalObjectReference{{Name: a.cfg.ImagePullSecret}}
}

func (a *K8sAdapter) Destroy(ctx context.Context, resourceRef string) error {
	sb := &sandboxv1alpha1.Sandbox{
		ObjectMeta: metav1.ObjectMeta{
			Name:      resourceRef,
			Namespace: a.cfg.Namespace,
		},
	}
	if err := a.k8s.Delete(ctx, sb); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete sandbox CR: %w", err)
	}
	return nil
}

func (a *K8sAdapter) HealthCheck(ctx context.Context, address string) error {
	return httpHealthCheck(ctx, address)
}
