package instance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	compute "google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"

	"github.com/ixqt-ai/cloud-reconciler/internal/platform/logger"
)

// GCEAdapter is the production Adapter backed by a single long-lived
// Compute Engine client, reused across every reconciliation tick rather
// than built fresh per call.
type GCEAdapter struct {
	log *logger.Logger
	svc *compute.Service
}

func NewGCEAdapter(log *logger.Logger, svc *compute.Service) *GCEAdapter {
	return &GCEAdapter{log: log, svc: svc}
}

func (a *GCEAdapter) VMExists(ctx context.Context, project, zone, name string) (bool, error) {
	_, err := a.svc.Instances.Get(project, zone, name).Context(ctx).Do()
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	a.log.Warn("vm existence check failed, failing safe", "instance", name, "zone", zone, "error", err)
	return true, nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 404
	}
	return false
}

func (a *GCEAdapter) VMSearchByPattern(ctx context.Context, project, namePattern string) (*VMLocation, error) {
	filter := fmt.Sprintf("name eq %q", namePattern)
	var found *VMLocation
	call := a.svc.Instances.AggregatedList(project).Filter(filter).Context(ctx)
	err := call.Pages(ctx, func(page *compute.InstanceAggregatedList) error {
		if found != nil {
			return nil
		}
		for zoneKey, scoped := range page.Items {
			if len(scoped.Instances) == 0 {
				continue
			}
			zone := zoneKey
			if idx := strings.LastIndex(zoneKey, "/"); idx >= 0 {
				zone = zoneKey[idx+1:]
			}
			found = &VMLocation{Name: scoped.Instances[0].Name, Zone: zone}
			return nil
		}
		return nil
	})
	if err != nil {
		a.log.Warn("vm pattern search failed", "pattern", namePattern, "error", err)
		return nil, nil
	}
	return found, nil
}

func (a *GCEAdapter) CreateInstance(ctx context.Context, project, zone string, spec Spec) (string, error) {
	inst := toComputeInstance(zone, spec)

	op, err := a.svc.Instances.Insert(project, zone, inst).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert instance %s in %s: %w", spec.Name, zone, err)
	}
	if err := a.waitZoneOperation(ctx, project, zone, op.Name); err != nil {
		return "", fmt.Errorf("wait for instance %s create: %w", spec.Name, err)
	}
	if _, err := a.svc.Instances.Get(project, zone, spec.Name).Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("verify instance %s after create: %w", spec.Name, err)
	}
	return spec.Name, nil
}

func (a *GCEAdapter) waitZoneOperation(ctx context.Context, project, zone, opName string) error {
	for {
		op, err := a.svc.ZoneOperations.Get(project, zone, opName).Context(ctx).Do()
		if err != nil {
			return err
		}
		if op.Status == "DONE" {
			if op.Error != nil && len(op.Error.Errors) > 0 {
				return fmt.Errorf("operation %s failed: %s", opName, op.Error.Errors[0].Message)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func toComputeInstance(zone string, spec Spec) *compute.Instance {
	items := make([]*compute.MetadataItems, 0, len(spec.Metadata))
	for k, v := range spec.Metadata {
		val := v
		items = append(items, &compute.MetadataItems{Key: k, Value: &val})
	}

	inst := &compute.Instance{
		Name:        spec.Name,
		MachineType: fmt.Sprintf("zones/%s/machineTypes/%s", zone, spec.MachineType),
		Scheduling: &compute.Scheduling{
			ProvisioningModel:         provisioningModel(spec.Spot),
			InstanceTerminationAction: terminationAction(spec.Spot),
			OnHostMaintenance:         maintenanceAction(spec.Spot),
		},
		Disks: []*compute.AttachedDisk{
			{
				AutoDelete: true,
				Boot:       true,
				InitializeParams: &compute.AttachedDiskInitializeParams{
					SourceImage: spec.SourceImage,
					DiskSizeGb:  spec.DiskSizeGB,
					DiskType:    fmt.Sprintf("zones/%s/diskTypes/%s", zone, spec.DiskType),
				},
			},
		},
		NetworkInterfaces: []*compute.NetworkInterface{
			{AccessConfigs: []*compute.AccessConfig{{Name: "External NAT", Type: "ONE_TO_ONE_NAT"}}},
		},
		Metadata: &compute.Metadata{Items: items},
		Labels:   spec.Labels,
	}
	if spec.ServiceAccountEmail != "" {
		inst.ServiceAccounts = []*compute.ServiceAccount{
			{Email: spec.ServiceAccountEmail, Scopes: []string{"https://www.googleapis.com/auth/cloud-platform"}},
		}
	}
	if spec.Accelerator != nil {
		inst.GuestAccelerators = []*compute.AcceleratorConfig{
			{
				AcceleratorType:  fmt.Sprintf("zones/%s/acceleratorTypes/%s", zone, spec.Accelerator.Type),
				AcceleratorCount: spec.Accelerator.Count,
			},
		}
	}
	return inst
}

func provisioningModel(spot bool) string {
	if spot {
		return "SPOT"
	}
	return "STANDARD"
}

func terminationAction(spot bool) string {
	if spot {
		return "DELETE"
	}
	return ""
}

func maintenanceAction(spot bool) string {
	if spot {
		return "TERMINATE"
	}
	return "MIGRATE"
}
