package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/eric11eca/thinktank-ai/app/cluster"
	"github.com/eric11eca/thinktank-ai/app/domains"
	"github.com/eric11eca/thinktank-ai/app/metrics"
	"github.com/eric11eca/thinktank-ai/app/utils"
)

// ErrAllocationTimeout indicates the scheduler did not allocate a node
// port for the sandbox service within the poll budget.
var ErrAllocationTimeout = errors.New("node port was not allocated in time")

// ErrNotFound indicates no sandbox exists for the given id.
var ErrNotFound = errors.New("sandbox not found")

const (
	portPollAttempts = 20
	portPollInterval = 500 * time.Millisecond
)

// ProvisionerParams configures a provisioner service
type ProvisionerParams struct {
	Namespace       string
	NodeHost        string
	Image           string
	SkillsHostPath  string
	ThreadsHostPath string
	Resources       cluster.ResourceConfig
}

// ProvisionerService turns create/destroy requests into cluster resources:
// one pod plus one NodePort service per sandbox. It keeps no state of its
// own; the cluster resource store is the source of truth, so the service
// is safe to replicate.
type ProvisionerService struct {
	client kubernetes.Interface
	params ProvisionerParams
	poll   *utils.PollPolicy
}

// NewProvisionerService creates a new provisioner service
func NewProvisionerService(client kubernetes.Interface, params ProvisionerParams) *ProvisionerService {
	return &ProvisionerService{
		client: client,
		params: params,
		poll:   utils.NewPollPolicy(portPollAttempts, portPollInterval),
	}
}

// Create provisions a pod and NodePort service for sandboxID.
//
// The operation is idempotent: when the service already has an allocated
// port, the existing information is returned without creating anything.
// If service creation fails after the pod was created, the pod is deleted
// before the error is returned.
func (s *ProvisionerService) Create(ctx context.Context, sandboxID, threadID, userID string) (*domains.SandboxInfo, error) {
	log.Printf("creating sandbox %q for thread %q", sandboxID, threadID)
	start := time.Now()

	// Fast path: sandbox already exists
	if port, err := s.nodePort(ctx, sandboxID); err == nil && port > 0 {
		return &domains.SandboxInfo{
			SandboxID:  sandboxID,
			SandboxURL: s.sandboxURL(port),
			Status:     s.podPhase(ctx, sandboxID),
		}, nil
	}

	pod := cluster.BuildPod(cluster.PodParams{
		Namespace:       s.params.Namespace,
		SandboxID:       sandboxID,
		ThreadID:        threadID,
		UserID:          userID,
		Image:           s.params.Image,
		SkillsHostPath:  s.params.SkillsHostPath,
		ThreadsHostPath: s.params.ThreadsHostPath,
		Resources:       s.params.Resources,
	})
	if _, err := s.client.CoreV1().Pods(s.params.Namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		if !apierrors.IsAlreadyExists(err) {
			metrics.SandboxCreateFailures.Inc()
			return nil, fmt.Errorf("pod creation failed: %w", err)
		}
	} else {
		log.Printf("created pod %s", pod.Name)
	}

	svc := cluster.BuildService(s.params.Namespace, sandboxID)
	if _, err := s.client.CoreV1().Services(s.params.Namespace).Create(ctx, svc, metav1.CreateOptions{}); err != nil {
		if !apierrors.IsAlreadyExists(err) {
			// Roll back the pod so no orphaned workload remains
			if delErr := s.deletePod(ctx, sandboxID); delErr != nil && !apierrors.IsNotFound(delErr) {
				log.Printf("rollback of pod %s failed: %v", pod.Name, delErr)
			}
			metrics.SandboxCreateFailures.Inc()
			return nil, fmt.Errorf("service creation failed: %w", err)
		}
	} else {
		log.Printf("created service %s", svc.Name)
	}

	var nodePort int32
	allocated, err := s.poll.Wait(ctx, func(ctx context.Context) (bool, error) {
		port, err := s.nodePort(ctx, sandboxID)
		if err != nil || port == 0 {
			return false, nil
		}
		nodePort = port
		return true, nil
	})
	if err != nil {
		metrics.SandboxCreateFailures.Inc()
		return nil, fmt.Errorf("waiting for node port: %w", err)
	}
	if !allocated {
		// Roll back so no unreachable workload lingers in the cluster.
		if delErr := s.client.CoreV1().Services(s.params.Namespace).Delete(ctx, svc.Name, metav1.DeleteOptions{}); delErr != nil && !apierrors.IsNotFound(delErr) {
			log.Printf("rollback of service %s failed: %v", svc.Name, delErr)
		}
		if delErr := s.deletePod(ctx, sandboxID); delErr != nil && !apierrors.IsNotFound(delErr) {
			log.Printf("rollback of pod %s failed: %v", pod.Name, delErr)
		}
		metrics.SandboxCreateFailures.Inc()
		return nil, ErrAllocationTimeout
	}

	metrics.SandboxCreates.Inc()
	metrics.SandboxCreateDuration.Observe(time.Since(start).Seconds())

	return &domains.SandboxInfo{
		SandboxID:  sandboxID,
		SandboxURL: s.sandboxURL(nodePort),
		Status:     s.podPhase(ctx, sandboxID),
	}, nil
}

// Destroy deletes the service and pod for sandboxID. A missing resource
// is tolerated; other failures on either deletion are aggregated, and
// both deletions are always attempted.
func (s *ProvisionerService) Destroy(ctx context.Context, sandboxID string) error {
	var errs []error

	svcName := cluster.ServiceName(sandboxID)
	if err := s.client.CoreV1().Services(s.params.Namespace).Delete(ctx, svcName, metav1.DeleteOptions{}); err != nil {
		if !apierrors.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("service: %w", err))
		}
	} else {
		log.Printf("deleted service %s", svcName)
	}

	if err := s.deletePod(ctx, sandboxID); err != nil {
		if !apierrors.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("pod: %w", err))
		}
	} else {
		log.Printf("deleted pod %s", cluster.PodName(sandboxID))
	}

	if len(errs) > 0 {
		return fmt.Errorf("partial cleanup: %w", errors.Join(errs...))
	}

	metrics.SandboxDestroys.Inc()
	return nil
}

// Status returns current info for a sandbox, or ErrNotFound when its
// service has no allocated port.
func (s *ProvisionerService) Status(ctx context.Context, sandboxID string) (*domains.SandboxInfo, error) {
	port, err := s.nodePort(ctx, sandboxID)
	if err != nil || port == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sandboxID)
	}
	return &domains.SandboxInfo{
		SandboxID:  sandboxID,
		SandboxURL: s.sandboxURL(port),
		Status:     s.podPhase(ctx, sandboxID),
	}, nil
}

// List returns every sandbox currently managed in the namespace
func (s *ProvisionerService) List(ctx context.Context) ([]domains.SandboxInfo, error) {
	services, err := s.client.CoreV1().Services(s.params.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "app=" + cluster.SandboxAppLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}

	sandboxes := make([]domains.SandboxInfo, 0, len(services.Items))
	for _, svc := range services.Items {
		sandboxID := svc.Labels["sandbox-id"]
		if sandboxID == "" {
			continue
		}
		var nodePort int32
		for _, port := range svc.Spec.Ports {
			if port.Name == cluster.PortName {
				nodePort = port.NodePort
				break
			}
		}
		if nodePort == 0 {
			continue
		}
		sandboxes = append(sandboxes, domains.SandboxInfo{
			SandboxID:  sandboxID,
			SandboxURL: s.sandboxURL(nodePort),
			Status:     s.podPhase(ctx, sandboxID),
		})
	}
	return sandboxes, nil
}

func (s *ProvisionerService) deletePod(ctx context.Context, sandboxID string) error {
	return s.client.CoreV1().Pods(s.params.Namespace).Delete(ctx, cluster.PodName(sandboxID), metav1.DeleteOptions{})
}

// nodePort reads the scheduler-allocated node port, 0 when not yet assigned
func (s *ProvisionerService) nodePort(ctx context.Context, sandboxID string) (int32, error) {
	svc, err := s.client.CoreV1().Services(s.params.Namespace).Get(ctx, cluster.ServiceName(sandboxID), metav1.GetOptions{})
	if err != nil {
		return 0, err
	}
	for _, port := range svc.Spec.Ports {
		if port.Name == cluster.PortName {
			return port.NodePort, nil
		}
	}
	return 0, nil
}

func (s *ProvisionerService) podPhase(ctx context.Context, sandboxID string) string {
	pod, err := s.client.CoreV1().Pods(s.params.Namespace).Get(ctx, cluster.PodName(sandboxID), metav1.GetOptions{})
	if err != nil {
		return domains.StatusNotFound
	}
	if pod.Status.Phase == "" {
		return domains.StatusUnknown
	}
	return string(pod.Status.Phase)
}

func (s *ProvisionerService) sandboxURL(nodePort int32) string {
	return fmt.Sprintf("http://%s:%d", s.params.NodeHost, nodePort)
}

// SetPollPolicy overrides the node-port poll policy (used by tests)
func (s *ProvisionerService) SetPollPolicy(p *utils.PollPolicy) {
	s.poll = p
}
