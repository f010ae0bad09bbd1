package kubernetes

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/solo-io/go-utils/contextutils"
	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/solo-io/kubegcore/pkg/options"
	"github.com/solo-io/kubegcore/pkg/platforms"
)

// NodeLease serializes captures on a node. The agent's scratch directory is
// shared by every capture that runs through it, so a run holds a Lease named
// after the node until it has cleaned up. The lease is renewed every
// RenewInterval while it is held.
type NodeLease struct {
	clientset     kubernetes.Interface
	Holder        string
	Duration      time.Duration
	RenewInterval time.Duration
	Now           func() time.Time
}

func NewNodeLease(clientset kubernetes.Interface, duration time.Duration) *NodeLease {
	return &NodeLease{
		clientset:     clientset,
		Holder:        "kubegcore-" + uuid.New().String(),
		Duration:      duration,
		RenewInterval: duration / 3,
		Now:           time.Now,
	}
}

// Acquire takes the lease for the agent's node in the agent's namespace. An
// expired lease left by a crashed run is taken over. The returned func
// releases the lease.
func (l *NodeLease) Acquire(ctx context.Context, agent *platforms.AgentHandle) (func(context.Context) error, error) {
	logger := contextutils.LoggerFrom(ctx)
	leases := l.clientset.CoordinationV1().Leases(agent.Namespace)
	name := options.LeaseName(agent.NodeName)

	desired := l.leaseFor(agent.Namespace, name)
	_, err := leases.Create(ctx, desired, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		existing, getErr := leases.Get(ctx, name, metav1.GetOptions{})
		if getErr != nil {
			return nil, getErr
		}
		if holder, until, held := l.heldByOther(existing); held {
			return nil, platforms.Errorf(platforms.AgentBusy,
				"node %v is being captured by %v until %v", agent.NodeName, holder, until.Format(time.RFC3339))
		}
		logger.Infow("taking over expired lease", "lease", name, "previous", holderOf(existing))
		existing.Spec = desired.Spec
		_, err = leases.Update(ctx, existing, metav1.UpdateOptions{})
		if apierrors.IsConflict(err) {
			return nil, platforms.WrapError(platforms.AgentBusy, agent.NodeName, err)
		}
	}
	if err != nil {
		return nil, err
	}
	logger.Debugw("lease acquired", "lease", name, "holder", l.Holder)

	renewCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.renew(renewCtx, name, agent.Namespace)
	}()

	release := func(ctx context.Context) error {
		stop()
		<-done
		current, err := leases.Get(ctx, name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if holderOf(current) != l.Holder {
			// someone took it over after it expired
			return nil
		}
		return leases.Delete(ctx, name, metav1.DeleteOptions{
			Preconditions: &metav1.Preconditions{UID: &current.UID},
		})
	}
	return release, nil
}

// renew keeps the lease fresh until ctx is done or the lease is lost.
func (l *NodeLease) renew(ctx context.Context, name, namespace string) {
	if l.RenewInterval <= 0 {
		return
	}
	logger := contextutils.LoggerFrom(ctx)
	leases := l.clientset.CoordinationV1().Leases(namespace)
	ticker := time.NewTicker(l.RenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		current, err := leases.Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			if ctx.Err() == nil {
				logger.Warnw("could not renew lease", "lease", name, "error", err)
			}
			if apierrors.IsNotFound(err) {
				return
			}
			continue
		}
		if holder := holderOf(current); holder != l.Holder {
			logger.Warnw("lease was taken over", "lease", name, "holder", holder)
			return
		}
		renewed := metav1.NewMicroTime(l.Now())
		current.Spec.RenewTime = &renewed
		if _, err := leases.Update(ctx, current, metav1.UpdateOptions{}); err != nil && ctx.Err() == nil {
			logger.Warnw("could not renew lease", "lease", name, "error", err)
		}
	}
}

func (l *NodeLease) leaseFor(namespace, name string) *coordinationv1.Lease {
	holder := l.Holder
	seconds := int32(l.Duration / time.Second)
	now := metav1.NewMicroTime(l.Now())
	return &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": "kubegcore",
			},
		},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity:       &holder,
			LeaseDurationSeconds: &seconds,
			AcquireTime:          &now,
			RenewTime:            &now,
		},
	}
}

func (l *NodeLease) heldByOther(lease *coordinationv1.Lease) (string, time.Time, bool) {
	holder := holderOf(lease)
	if holder == "" || holder == l.Holder {
		return holder, time.Time{}, false
	}
	if lease.Spec.LeaseDurationSeconds == nil {
		return holder, time.Time{}, false
	}
	renewed := lease.Spec.RenewTime
	if renewed == nil {
		renewed = lease.Spec.AcquireTime
	}
	if renewed == nil {
		return holder, time.Time{}, false
	}
	until := renewed.Add(time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second)
	return holder, until, l.Now().Before(until)
}

func holderOf(lease *coordinationv1.Lease) string {
	if lease.Spec.HolderIdentity == nil {
		return ""
	}
	return *lease.Spec.HolderIdentity
}
