// Package cluster talks to the Kubernetes scheduler that hosts sandbox
// pods: client construction with kubeconfig fallback, namespace and
// network-policy bootstrap, and pure builder functions for the per-sandbox
// resources.
package cluster

import (
	"fmt"
	"path"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

const (
	// SandboxPort is the application port every sandbox container listens on.
	SandboxPort = 8080

	// SandboxAppLabel marks every resource managed by this service.
	SandboxAppLabel = "thinktank-sandbox"

	// PortName is the named port on both the container and the service.
	PortName = "http"

	// NetworkPolicyName is the shared isolation policy for all sandbox pods.
	NetworkPolicyName = "sandbox-isolation"

	healthPath = "/v1/sandbox"

	annotationPIDLimit = "sandbox.thinktank.ai/pid-limit"
	annotationThreadID = "sandbox.thinktank.ai/thread-id"
)

// ResourceConfig holds per-sandbox compute limits, as Kubernetes quantity strings
type ResourceConfig struct {
	CPURequest       string
	CPULimit         string
	MemoryRequest    string
	MemoryLimit      string
	EphemeralRequest string
	EphemeralLimit   string
	PIDLimit         string
}

// PodParams holds everything needed to build one sandbox pod
type PodParams struct {
	Namespace       string
	SandboxID       string
	ThreadID        string
	UserID          string
	Image           string
	SkillsHostPath  string
	ThreadsHostPath string
	Resources       ResourceConfig
}

// PodName returns the workload-unit name for a sandbox id
func PodName(sandboxID string) string {
	return fmt.Sprintf("sandbox-%s", sandboxID)
}

// ServiceName returns the exposure-unit name for a sandbox id
func ServiceName(sandboxID string) string {
	return fmt.Sprintf("sandbox-%s-svc", sandboxID)
}

func commonLabels() map[string]string {
	return map[string]string{
		"app.kubernetes.io/name":      "thinktank",
		"app.kubernetes.io/component": "sandbox",
	}
}

func sandboxLabels(sandboxID, userID string) map[string]string {
	labels := commonLabels()
	labels["app"] = SandboxAppLabel
	labels["sandbox-id"] = sandboxID
	if userID != "" {
		labels["user-id"] = userID
	}
	return labels
}

// BuildPod constructs a hardened pod manifest for a single sandbox.
//
// The container runs as a fixed non-root user with no privilege
// escalation, a read-only root filesystem backed by memory tmpfs mounts
// for /tmp and /run, and all capabilities dropped except
// NET_BIND_SERVICE. Compute limits come from ResourceConfig.
func BuildPod(p PodParams) *corev1.Pod {
	probe := func(initialDelay, period int32) *corev1.Probe {
		return &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				HTTPGet: &corev1.HTTPGetAction{
					Path: healthPath,
					Port: intstr.FromInt32(SandboxPort),
				},
			},
			InitialDelaySeconds: initialDelay,
			PeriodSeconds:       period,
			TimeoutSeconds:      3,
			FailureThreshold:    3,
		}
	}

	runAsUser := int64(1000)
	runAsGroup := int64(1000)
	runAsNonRoot := true
	noEscalation := false
	readOnlyRoot := true
	notPrivileged := false

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      PodName(p.SandboxID),
			Namespace: p.Namespace,
			Labels:    sandboxLabels(p.SandboxID, p.UserID),
			Annotations: map[string]string{
				annotationPIDLimit: p.Resources.PIDLimit,
				annotationThreadID: p.ThreadID,
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyAlways,
			Containers: []corev1.Container{
				{
					Name:            "sandbox",
					Image:           p.Image,
					ImagePullPolicy: corev1.PullIfNotPresent,
					Ports: []corev1.ContainerPort{
						{
							Name:          PortName,
							ContainerPort: SandboxPort,
							Protocol:      corev1.ProtocolTCP,
						},
					},
					ReadinessProbe: probe(5, 5),
					LivenessProbe:  probe(10, 10),
					Resources: corev1.ResourceRequirements{
						Requests: corev1.ResourceList{
							corev1.ResourceCPU:              resource.MustParse(p.Resources.CPURequest),
							corev1.ResourceMemory:           resource.MustParse(p.Resources.MemoryRequest),
							corev1.ResourceEphemeralStorage: resource.MustParse(p.Resources.EphemeralRequest),
						},
						Limits: corev1.ResourceList{
							corev1.ResourceCPU:              resource.MustParse(p.Resources.CPULimit),
							corev1.ResourceMemory:           resource.MustParse(p.Resources.MemoryLimit),
							corev1.ResourceEphemeralStorage: resource.MustParse(p.Resources.EphemeralLimit),
						},
					},
					VolumeMounts: []corev1.VolumeMount{
						{Name: "skills", MountPath: "/mnt/skills", ReadOnly: true},
						{Name: "user-data", MountPath: "/mnt/user-data"},
						{Name: "tmp", MountPath: "/tmp"},
						{Name: "run", MountPath: "/run"},
					},
					SecurityContext: &corev1.SecurityContext{
						Privileged:               &notPrivileged,
						AllowPrivilegeEscalation: &noEscalation,
						ReadOnlyRootFilesystem:   &readOnlyRoot,
						RunAsNonRoot:             &runAsNonRoot,
						RunAsUser:                &runAsUser,
						RunAsGroup:               &runAsGroup,
						Capabilities: &corev1.Capabilities{
							Drop: []corev1.Capability{"ALL"},
							Add:  []corev1.Capability{"NET_BIND_SERVICE"},
						},
					},
				},
			},
			Volumes: []corev1.Volume{
				{
					Name: "skills",
					VolumeSource: corev1.VolumeSource{
						HostPath: &corev1.HostPathVolumeSource{
							Path: p.SkillsHostPath,
							Type: hostPathType(corev1.HostPathDirectory),
						},
					},
				},
				{
					Name: "user-data",
					VolumeSource: corev1.VolumeSource{
						HostPath: &corev1.HostPathVolumeSource{
							Path: path.Join(p.ThreadsHostPath, p.ThreadID, "user-data"),
							Type: hostPathType(corev1.HostPathDirectoryOrCreate),
						},
					},
				},
				// Writable tmpfs volumes for the read-only root filesystem
				memoryVolume("tmp", "100Mi"),
				memoryVolume("run", "10Mi"),
			},
		},
	}
}

// BuildService constructs a NodePort service manifest. The node port is
// left unset so the scheduler auto-allocates one from its range.
func BuildService(namespace, sandboxID string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ServiceName(sandboxID),
			Namespace: namespace,
			Labels:    sandboxLabels(sandboxID, ""),
		},
		Spec: corev1.ServiceSpec{
			Type: corev1.ServiceTypeNodePort,
			Ports: []corev1.ServicePort{
				{
					Name:       PortName,
					Port:       SandboxPort,
					TargetPort: intstr.FromInt32(SandboxPort),
					Protocol:   corev1.ProtocolTCP,
				},
			},
			Selector: map[string]string{
				"sandbox-id": sandboxID,
			},
		},
	}
}

// BuildNetworkPolicy constructs the shared isolation policy for sandbox pods.
//
// Ingress is allowed only on the sandbox application port. Egress is
// allowed for DNS (53 UDP/TCP) and external HTTP/HTTPS (80/443), except
// to the given internal CIDRs so a sandbox cannot reach the hosting
// infrastructure. Enforcement requires a CNI plugin that supports
// NetworkPolicy (Calico, Cilium, Weave); the default Docker Desktop CNI
// does not.
func BuildNetworkPolicy(namespace string, internalCIDRs []string) *networkingv1.NetworkPolicy {
	tcp := corev1.ProtocolTCP
	udp := corev1.ProtocolUDP
	port := func(p int32) *intstr.IntOrString {
		v := intstr.FromInt32(p)
		return &v
	}

	except := make([]string, 0, len(internalCIDRs))
	for _, cidr := range internalCIDRs {
		if cidr != "" {
			except = append(except, cidr)
		}
	}

	return &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      NetworkPolicyName,
			Namespace: namespace,
			Labels:    commonLabels(),
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{
				MatchLabels: map[string]string{"app": SandboxAppLabel},
			},
			PolicyTypes: []networkingv1.PolicyType{
				networkingv1.PolicyTypeIngress,
				networkingv1.PolicyTypeEgress,
			},
			Ingress: []networkingv1.NetworkPolicyIngressRule{
				{
					From: []networkingv1.NetworkPolicyPeer{
						{IPBlock: &networkingv1.IPBlock{CIDR: "0.0.0.0/0"}},
					},
					Ports: []networkingv1.NetworkPolicyPort{
						{Port: port(SandboxPort), Protocol: &tcp},
					},
				},
			},
			Egress: []networkingv1.NetworkPolicyEgressRule{
				// DNS resolution
				{
					Ports: []networkingv1.NetworkPolicyPort{
						{Port: port(53), Protocol: &udp},
						{Port: port(53), Protocol: &tcp},
					},
				},
				// External HTTP/HTTPS, internal CIDRs excluded
				{
					To: []networkingv1.NetworkPolicyPeer{
						{
							IPBlock: &networkingv1.IPBlock{
								CIDR:   "0.0.0.0/0",
								Except: except,
							},
						},
					},
					Ports: []networkingv1.NetworkPolicyPort{
						{Port: port(80), Protocol: &tcp},
						{Port: port(443), Protocol: &tcp},
					},
				},
			},
		},
	}
}

func memoryVolume(name, sizeLimit string) corev1.Volume {
	limit := resource.MustParse(sizeLimit)
	return corev1.Volume{
		Name: name,
		VolumeSource: corev1.VolumeSource{
			EmptyDir: &corev1.EmptyDirVolumeSource{
				Medium:    corev1.StorageMediumMemory,
				SizeLimit: &limit,
			},
		},
	}
}

func hostPathType(t corev1.HostPathType) *corev1.HostPathType {
	return &t
}
