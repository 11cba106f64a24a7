package reconciler

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/beebs-dev/strim/pkg/pipeline"
)

// PodTemplateConfig holds the images and HLS mount path for the worker
// pod. FFmpegImage and UploaderImage have no defaults: they come from
// the required FFMPEG_IMAGE and UPLOADER_IMAGE variables (see
// cmd/strim-reconciler/main.go). The pod has an ffmpeg container
// pulling from source.internalUrl and writing HLS to a shared emptyDir,
// and a peggy (strim-uploader) sidecar watching that same volume.
type PodTemplateConfig struct {
	FFmpegImage   string
	UploaderImage string
	HLSDir        string
}

// buildPod renders the worker pod for a Strim, stamping specHash onto
// the spec-hash annotation so a later reconcile can detect drift
// without re-deriving it from the Strim spec each time.
func buildPod(s *pipeline.Strim, cfg PodTemplateConfig, specHash string) *corev1.Pod {
	// The worker pod shares the Pipeline's own name — there is no
	// independent pod-naming scheme, so "the pod named after the
	// Pipeline" and "the Pipeline" are the same lookup key everywhere.
	name := s.Name

	env := []corev1.EnvVar{
		{Name: "NODE_ID", ValueFrom: &corev1.EnvVarSource{FieldRef: &corev1.ObjectFieldSelector{FieldPath: "metadata.name"}}},
		{Name: "HLS_DIR", Value: cfg.HLSDir},
		{Name: "S3_BUCKET", Value: s.Spec.Target.Bucket},
		{Name: "S3_REGION", Value: s.Spec.Target.Region},
		{Name: "S3_KEY_PREFIX", Value: s.Spec.Target.KeyPrefix},
	}
	if s.Spec.Target.Endpoint != "" {
		env = append(env, corev1.EnvVar{Name: "S3_ENDPOINT", Value: s.Spec.Target.Endpoint})
	}
	if s.Spec.Target.DeleteOldSegmentsAfter != nil {
		env = append(env, corev1.EnvVar{Name: "DELETE_OLD_SEGMENTS_AFTER", Value: *s.Spec.Target.DeleteOldSegmentsAfter})
	}

	secretEnv := []corev1.EnvVar{
		envFromSecret("AWS_ACCESS_KEY_ID", s.Spec.Target.Secret, "access-key-id"),
		envFromSecret("AWS_SECRET_ACCESS_KEY", s.Spec.Target.Secret, "secret-access-key"),
	}

	volume := corev1.Volume{
		Name:         "hls",
		VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
	}
	mount := corev1.VolumeMount{Name: "hls", MountPath: cfg.HLSDir}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: s.Namespace,
			Annotations: map[string]string{
				specHashAnnotation: specHash,
			},
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": "strim-reconciler",
				"strim.beebs.dev/pipeline":     s.Name,
			},
			OwnerReferences: []metav1.OwnerReference{
				{
					APIVersion: pipeline.GroupVersion.String(),
					Kind:       pipeline.Kind,
					Name:       s.Name,
					UID:        s.UID,
					Controller: boolPtr(true),
				},
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Volumes:       []corev1.Volume{volume},
			Containers: []corev1.Container{
				{
					Name:         "ffmpeg",
					Image:        cfg.FFmpegImage,
					Env:          append(append([]corev1.EnvVar{}, env...), corev1.EnvVar{Name: "SOURCE_URL", Value: s.Spec.Source.InternalURL}),
					VolumeMounts: []corev1.VolumeMount{mount},
				},
				{
					Name:         "peggy",
					Image:        cfg.UploaderImage,
					Env:          append(append([]corev1.EnvVar{}, env...), secretEnv...),
					VolumeMounts: []corev1.VolumeMount{mount},
				},
			},
		},
	}

	return pod
}

func envFromSecret(name, secretName, key string) corev1.EnvVar {
	return corev1.EnvVar{
		Name: name,
		ValueFrom: &corev1.EnvVarSource{
			SecretKeyRef: &corev1.SecretKeySelector{
				LocalObjectReference: corev1.LocalObjectReference{Name: secretName},
				Key:                  key,
			},
		},
	}
}

func boolPtr(b bool) *bool { return &b }
