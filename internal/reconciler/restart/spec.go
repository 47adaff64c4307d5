package restart

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/instance"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/runstate"
)

// cosStableImage is the boot-disk source image for every replacement
// instance: a Container-Optimized OS build capable of running the spot
// runner container referenced by restart_config.json's image field.
const cosStableImage = "projects/cos-cloud/global/images/family/cos-stable"

const maxVMNameLen = 63

// sanitizeVMName derives the deterministic VM name: lowercase
// "<container_name>-<sanitized_run_id>-<attempt>", truncated to 63 chars,
// first character forced alphabetic.
func sanitizeVMName(containerName, runID string, attempt int) string {
	sanitizedRunID := strings.ToLower(strings.ReplaceAll(runID, "_", "-"))
	if len(sanitizedRunID) > 55 {
		sanitizedRunID = sanitizedRunID[:55]
	}
	name := strings.ToLower(fmt.Sprintf("%s-%s-%d", containerName, sanitizedRunID, attempt))
	if len(name) > maxVMNameLen {
		name = name[:maxVMNameLen]
	}
	if name == "" || !isAlpha(name[0]) {
		name = "vm-" + name
		if len(name) > maxVMNameLen {
			name = name[:maxVMNameLen]
		}
	}
	return name
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// buildSpec constructs the replacement instance's spec from restart_config.json
// verbatim: the reconciler never generates the startup script,
// it forwards whatever restart_config supplies.
func buildSpec(cfg *runstate.RestartConfig, runID string, attempt int) instance.Spec {
	containerName := cfg.ContainerName
	if containerName == "" {
		containerName = "spot-runner"
	}
	vmName := sanitizeVMName(containerName, runID, attempt)

	machineType := cfg.MachineType
	if machineType == "" {
		machineType = "n1-standard-8"
	}
	diskSize := cfg.BootDiskSizeGB
	if diskSize <= 0 {
		diskSize = 50
	}
	diskType := cfg.BootDiskType
	if diskType == "" {
		diskType = "pd-ssd"
	}
	metadataPrefix := cfg.MetadataPrefix
	if metadataPrefix == "" {
		metadataPrefix = "spot"
	}
	runnerLabel := cfg.RunnerLabel
	if runnerLabel == "" {
		runnerLabel = "spot-runner"
	}
	bucket := cfg.Bucket

	sanitizedRunID := strings.ToLower(strings.ReplaceAll(runID, "_", "-"))
	if len(sanitizedRunID) > 55 {
		sanitizedRunID = sanitizedRunID[:55]
	}

	metadata := map[string]string{
		metadataPrefix + "-image-ref":      cfg.Image,
		metadataPrefix + "-run-id":         runID,
		metadataPrefix + "-bucket":         bucket,
		metadataPrefix + "-job-command":    base64.StdEncoding.EncodeToString([]byte(cfg.JobCommand)),
		metadataPrefix + "-conda-env":      cfg.CondaEnv,
		metadataPrefix + "-notify-secret":  cfg.NotifySecret,
		"spot-metadata-prefix":             metadataPrefix,
	}
	if cfg.GPUEnabled {
		metadata["install-nvidia-driver"] = "true"
	}
	if cfg.StartupScript != "" {
		metadata["startup-script"] = cfg.StartupScript
	}
	for k, v := range cfg.MetadataTemplate {
		metadata[k] = v
	}

	labels := map[string]string{
		"runner_label": runnerLabel,
		"run_id":       sanitizedRunID,
		"project":      cfg.Project,
		"region":       cfg.Region,
	}

	spec := instance.Spec{
		Name:                vmName,
		MachineType:         machineType,
		SourceImage:         cosStableImage,
		DiskSizeGB:          diskSize,
		DiskType:            diskType,
		ServiceAccountEmail: cfg.ServiceAccount,
		Metadata:            metadata,
		Labels:              labels,
		Spot:                true,
	}
	if cfg.GPUEnabled && cfg.GPUType != "" {
		spec.Accelerator = &instance.Accelerator{Type: cfg.GPUType, Count: 1}
	}
	return spec
}
